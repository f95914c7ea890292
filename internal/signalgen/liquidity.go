package signalgen

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/tradewinds/internal/domain"
)

// LiquidityGrabDetector finds a wick sweeping beyond the recent extreme
// that closes back inside the range, on elevated volume. The reclaim
// suggests the move existed to fill resting orders, not to trend.
type LiquidityGrabDetector struct {
	lookback int
}

// NewLiquidityGrabDetector builds the detector with a 20 candle range.
func NewLiquidityGrabDetector() *LiquidityGrabDetector {
	return &LiquidityGrabDetector{lookback: 20}
}

func (d *LiquidityGrabDetector) Name() string                  { return "liquidity_grab_detector" }
func (d *LiquidityGrabDetector) SignalType() domain.SignalType { return domain.SignalLiquidityGrab }
func (d *LiquidityGrabDetector) Timeframe() domain.Timeframe   { return domain.Timeframe5m }
func (d *LiquidityGrabDetector) Interval() time.Duration       { return 5 * time.Minute }
func (d *LiquidityGrabDetector) MinCandles() int               { return d.lookback + 2 }

func (d *LiquidityGrabDetector) Detect(ticker string, candles []domain.Candle) *domain.SignalEntry {
	if len(candles) < d.MinCandles() {
		return nil
	}
	last := candles[len(candles)-1]
	window := candles[len(candles)-1-d.lookback : len(candles)-1]

	rangeHigh, rangeLow := window[0].High, window[0].Low
	volumes := make([]float64, len(window))
	for i, c := range window {
		if c.High > rangeHigh {
			rangeHigh = c.High
		}
		if c.Low < rangeLow {
			rangeLow = c.Low
		}
		volumes[i] = c.Volume
	}

	sweptHigh := last.High > rangeHigh && last.Close < rangeHigh
	sweptLow := last.Low < rangeLow && last.Close > rangeLow
	if !sweptHigh && !sweptLow {
		return nil
	}

	// Volume z-score gates the signal: a sweep on thin volume is noise.
	mean, std := stat.MeanStdDev(volumes, nil)
	if std == 0 {
		return nil
	}
	zscore := (last.Volume - mean) / std
	if zscore < 1.0 {
		return nil
	}

	// A sweep of the highs traps buyers; expectation is down.
	bias := domain.BiasBearish
	side := "high"
	if sweptLow {
		bias = domain.BiasBullish
		side = "low"
	}
	return &domain.SignalEntry{
		Ticker:     ticker,
		Signal:     bias,
		Confidence: clampConfidence(45 + zscore*12),
		Reasoning:  fmt.Sprintf("swept %d-candle %s and reclaimed, volume z=%.1f", d.lookback, side, zscore),
	}
}
