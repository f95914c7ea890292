package signalgen

import (
	"fmt"
	"time"

	"github.com/aristath/tradewinds/internal/domain"
)

// BreakOfStructureDetector finds a close beyond the most recent confirmed
// swing high (bullish) or swing low (bearish) on the 15 minute timeframe.
type BreakOfStructureDetector struct {
	bullish bool
	// pivot strength: a swing point must exceed this many neighbours on
	// each side.
	strength int
}

// NewBreakOfStructureDetector builds the detector for one direction.
func NewBreakOfStructureDetector(bullish bool) *BreakOfStructureDetector {
	return &BreakOfStructureDetector{bullish: bullish, strength: 3}
}

func (d *BreakOfStructureDetector) Name() string {
	if d.bullish {
		return "bos_bullish_detector"
	}
	return "bos_bearish_detector"
}

func (d *BreakOfStructureDetector) SignalType() domain.SignalType {
	if d.bullish {
		return domain.SignalBreakOfStructureUp
	}
	return domain.SignalBreakOfStructureDn
}

func (d *BreakOfStructureDetector) Timeframe() domain.Timeframe { return domain.Timeframe15m }
func (d *BreakOfStructureDetector) Interval() time.Duration     { return 5 * time.Minute }
func (d *BreakOfStructureDetector) MinCandles() int             { return 50 }

func (d *BreakOfStructureDetector) Detect(ticker string, candles []domain.Candle) *domain.SignalEntry {
	if len(candles) < d.MinCandles() {
		return nil
	}
	last := candles[len(candles)-1]
	// The last candle cannot itself be a confirmed pivot, so search up to
	// strength candles before the end.
	pivotIdx := -1
	var pivotPx float64
	for i := len(candles) - 1 - d.strength; i >= d.strength; i-- {
		if d.isPivot(candles, i) {
			pivotIdx = i
			if d.bullish {
				pivotPx = candles[i].High
			} else {
				pivotPx = candles[i].Low
			}
			break
		}
	}
	if pivotIdx < 0 {
		return nil
	}

	broke := (d.bullish && last.Close > pivotPx) || (!d.bullish && last.Close < pivotPx)
	if !broke {
		return nil
	}
	// Only the break candle signals; if the prior close already cleared
	// the pivot this structure break was reported on an earlier pass.
	prev := candles[len(candles)-2]
	if (d.bullish && prev.Close > pivotPx) || (!d.bullish && prev.Close < pivotPx) {
		return nil
	}

	excess := (last.Close - pivotPx) / pivotPx * 100
	if !d.bullish {
		excess = -excess
	}
	bias := domain.BiasBullish
	word := "high"
	if !d.bullish {
		bias = domain.BiasBearish
		word = "low"
	}
	return &domain.SignalEntry{
		Ticker:     ticker,
		Signal:     bias,
		Confidence: clampConfidence(50 + excess*40),
		Reasoning:  fmt.Sprintf("close %.2f broke swing %s %.2f", last.Close, word, pivotPx),
	}
}

func (d *BreakOfStructureDetector) isPivot(candles []domain.Candle, i int) bool {
	for j := i - d.strength; j <= i+d.strength; j++ {
		if j == i {
			continue
		}
		if d.bullish && candles[j].High >= candles[i].High {
			return false
		}
		if !d.bullish && candles[j].Low <= candles[i].Low {
			return false
		}
	}
	return true
}
