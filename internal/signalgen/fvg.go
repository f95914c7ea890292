package signalgen

import (
	"fmt"
	"time"

	"github.com/aristath/tradewinds/internal/domain"
)

// FVGDetector finds fair value gaps: a three candle sequence where the
// first candle's extreme never overlaps the third's, leaving untraded
// space the market tends to revisit.
type FVGDetector struct {
	// minGapPct filters micro gaps that fill within a tick or two.
	minGapPct float64
}

// NewFVGDetector builds the detector with a 0.15% minimum gap.
func NewFVGDetector() *FVGDetector {
	return &FVGDetector{minGapPct: 0.15}
}

func (d *FVGDetector) Name() string                  { return "fvg_detector" }
func (d *FVGDetector) SignalType() domain.SignalType { return domain.SignalFVGFormation }
func (d *FVGDetector) Timeframe() domain.Timeframe   { return domain.Timeframe5m }
func (d *FVGDetector) Interval() time.Duration       { return 5 * time.Minute }
func (d *FVGDetector) MinCandles() int               { return 3 }

func (d *FVGDetector) Detect(ticker string, candles []domain.Candle) *domain.SignalEntry {
	if len(candles) < 3 {
		return nil
	}
	a := candles[len(candles)-3]
	b := candles[len(candles)-2]
	c := candles[len(candles)-1]
	if b.Close == 0 {
		return nil
	}

	// Bullish gap: candle one's high sits below candle three's low.
	if a.High < c.Low {
		gapPct := (c.Low - a.High) / b.Close * 100
		if gapPct >= d.minGapPct {
			return &domain.SignalEntry{
				Ticker:     ticker,
				Signal:     domain.BiasBullish,
				Confidence: clampConfidence(40 + gapPct*25),
				Reasoning:  fmt.Sprintf("bullish FVG %.2f-%.2f (%.2f%%)", a.High, c.Low, gapPct),
			}
		}
	}
	// Bearish gap: candle one's low sits above candle three's high.
	if a.Low > c.High {
		gapPct := (a.Low - c.High) / b.Close * 100
		if gapPct >= d.minGapPct {
			return &domain.SignalEntry{
				Ticker:     ticker,
				Signal:     domain.BiasBearish,
				Confidence: clampConfidence(40 + gapPct*25),
				Reasoning:  fmt.Sprintf("bearish FVG %.2f-%.2f (%.2f%%)", c.High, a.Low, gapPct),
			}
		}
	}
	return nil
}
