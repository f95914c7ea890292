// Package signalgen scans the hot ticker universe with technical detectors
// and publishes the resulting signals to the bus.
package signalgen

import (
	"time"

	"github.com/aristath/tradewinds/internal/domain"
)

// Detector inspects one ticker's candle window and decides whether its
// pattern is present. Detectors are pure: no I/O, no clock access.
type Detector interface {
	Name() string
	SignalType() domain.SignalType
	Timeframe() domain.Timeframe
	// Interval is how often the generator runs this detector.
	Interval() time.Duration
	// MinCandles is the window the detector needs. Shorter windows are
	// skipped, never padded.
	MinCandles() int
	// Detect returns nil when the pattern is absent.
	Detect(ticker string, candles []domain.Candle) *domain.SignalEntry
}

// DefaultDetectors is the production detector set.
func DefaultDetectors() []Detector {
	return []Detector{
		NewGoldenCrossDetector(),
		NewDeathCrossDetector(),
		NewBreakOfStructureDetector(true),
		NewBreakOfStructureDetector(false),
		NewLiquidityGrabDetector(),
		NewFVGDetector(),
	}
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
