package signalgen

import (
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/aristath/tradewinds/internal/domain"
)

// CrossoverDetector finds golden and death crosses of the 50 and 200
// period moving averages on the hourly timeframe.
type CrossoverDetector struct {
	golden bool
}

// NewGoldenCrossDetector detects the 50 SMA closing above the 200 SMA.
func NewGoldenCrossDetector() *CrossoverDetector { return &CrossoverDetector{golden: true} }

// NewDeathCrossDetector detects the 50 SMA closing below the 200 SMA.
func NewDeathCrossDetector() *CrossoverDetector { return &CrossoverDetector{golden: false} }

func (d *CrossoverDetector) Name() string {
	if d.golden {
		return "golden_cross_detector"
	}
	return "death_cross_detector"
}

func (d *CrossoverDetector) SignalType() domain.SignalType {
	if d.golden {
		return domain.SignalGoldenCross
	}
	return domain.SignalDeathCross
}

func (d *CrossoverDetector) Timeframe() domain.Timeframe { return domain.Timeframe1h }
func (d *CrossoverDetector) Interval() time.Duration     { return 15 * time.Minute }
func (d *CrossoverDetector) MinCandles() int             { return 210 }

func (d *CrossoverDetector) Detect(ticker string, candles []domain.Candle) *domain.SignalEntry {
	if len(candles) < d.MinCandles() {
		return nil
	}
	px := closes(candles)
	fast := talib.Sma(px, 50)
	slow := talib.Sma(px, 200)
	n := len(px) - 1

	prevDiff := fast[n-1] - slow[n-1]
	currDiff := fast[n] - slow[n]
	crossed := (d.golden && prevDiff <= 0 && currDiff > 0) ||
		(!d.golden && prevDiff >= 0 && currDiff < 0)
	if !crossed {
		return nil
	}

	// Wider separation after the cross means less chance of an immediate
	// re-cross, so it scores higher.
	separation := math.Abs(currDiff) / slow[n] * 100
	confidence := clampConfidence(55 + separation*20)

	bias := domain.BiasBullish
	word := "above"
	if !d.golden {
		bias = domain.BiasBearish
		word = "below"
	}
	return &domain.SignalEntry{
		Ticker:     ticker,
		Signal:     bias,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("SMA50 crossed %s SMA200 (separation %.2f%%)", word, separation),
	}
}
