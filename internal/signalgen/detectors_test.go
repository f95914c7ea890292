package signalgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/domain"
)

func bar(o, h, l, c, v float64) domain.Candle {
	return domain.Candle{Open: o, High: h, Low: l, Close: c, Volume: v}
}

func flatBars(n int, price float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = bar(price, price+0.5, price-0.5, price, 1000)
	}
	return out
}

func TestGoldenCrossDetector(t *testing.T) {
	d := NewGoldenCrossDetector()

	// A long flat series pins both averages at 100 (diff exactly zero);
	// the final pop lifts the fast average through the slow one.
	candles := flatBars(209, 100)
	candles = append(candles, bar(100, 105.5, 100, 105, 1000))

	entry := d.Detect("AAPL", candles)
	require.NotNil(t, entry)
	assert.Equal(t, domain.BiasBullish, entry.Signal)
	assert.Greater(t, entry.Confidence, 50.0)

	// One bar later the diff is already positive: no repeat signal.
	next := append(append([]domain.Candle{}, candles[1:]...), bar(105, 106.5, 105, 106, 1000))
	assert.Nil(t, d.Detect("AAPL", next))
}

func TestCrossoverDetectorTooShort(t *testing.T) {
	assert.Nil(t, NewGoldenCrossDetector().Detect("AAPL", flatBars(100, 100)))
}

func TestDeathCrossDetector(t *testing.T) {
	d := NewDeathCrossDetector()

	candles := flatBars(209, 100)
	candles = append(candles, bar(100, 100, 94.5, 95, 1000))

	entry := d.Detect("AAPL", candles)
	require.NotNil(t, entry)
	assert.Equal(t, domain.BiasBearish, entry.Signal)
}

func TestFVGDetectorBullish(t *testing.T) {
	d := NewFVGDetector()
	candles := []domain.Candle{
		bar(100, 100.5, 99.5, 100, 0),  // a: high 100.5
		bar(100.5, 102, 100.4, 102, 0), // b: displacement
		bar(102, 103, 101.5, 102.5, 0), // c: low 101.5 > a.high
	}

	entry := d.Detect("AAPL", candles)
	require.NotNil(t, entry)
	assert.Equal(t, domain.BiasBullish, entry.Signal)
	assert.Contains(t, entry.Reasoning, "bullish FVG")
}

func TestFVGDetectorBearish(t *testing.T) {
	d := NewFVGDetector()
	candles := []domain.Candle{
		bar(100, 100.5, 99.5, 100, 0),   // a: low 99.5
		bar(99.5, 99.6, 98, 98.1, 0),    // b
		bar(98, 98.5, 97.5, 98, 0),      // c: high 98.5 < a.low
	}

	entry := d.Detect("AAPL", candles)
	require.NotNil(t, entry)
	assert.Equal(t, domain.BiasBearish, entry.Signal)
}

func TestFVGDetectorIgnoresMicroGaps(t *testing.T) {
	d := NewFVGDetector()
	candles := []domain.Candle{
		bar(100, 100.01, 99.9, 100, 0),
		bar(100, 100.05, 99.95, 100.02, 0),
		bar(100.02, 100.08, 100.02, 100.05, 0), // gap of 0.01%
	}
	assert.Nil(t, d.Detect("AAPL", candles))
}

func TestLiquidityGrabDetector(t *testing.T) {
	d := NewLiquidityGrabDetector()

	// 20 range candles with mixed volume, then a high-volume sweep of the
	// range high that closes back inside.
	var candles []domain.Candle
	for i := 0; i < 21; i++ {
		v := 1000.0
		if i%2 == 0 {
			v = 1200
		}
		candles = append(candles, bar(100, 101, 99, 100, v))
	}
	candles = append(candles, bar(100, 102.5, 99.8, 100.2, 5000))

	entry := d.Detect("AAPL", candles)
	require.NotNil(t, entry)
	assert.Equal(t, domain.BiasBearish, entry.Signal)
	assert.Contains(t, entry.Reasoning, "swept")
}

func TestLiquidityGrabRequiresVolume(t *testing.T) {
	d := NewLiquidityGrabDetector()

	var candles []domain.Candle
	for i := 0; i < 21; i++ {
		v := 1000.0
		if i%2 == 0 {
			v = 1200
		}
		candles = append(candles, bar(100, 101, 99, 100, v))
	}
	// Sweep on average volume is noise.
	candles = append(candles, bar(100, 102.5, 99.8, 100.2, 1100))
	assert.Nil(t, d.Detect("AAPL", candles))
}

func TestBreakOfStructureBullish(t *testing.T) {
	d := NewBreakOfStructureDetector(true)

	// Flat range with one clear swing high at 103, then a close above it
	// on the final candle.
	candles := flatBars(40, 100)
	candles[30] = bar(100, 103, 99.5, 100.5, 1000)
	candles = append(candles, flatBars(9, 100)...)
	candles = append(candles, bar(100, 103.8, 100, 103.5, 1000))

	entry := d.Detect("AAPL", candles)
	require.NotNil(t, entry)
	assert.Equal(t, domain.BiasBullish, entry.Signal)
	assert.Contains(t, entry.Reasoning, "broke swing high")
}

func TestBreakOfStructureNotRepeated(t *testing.T) {
	d := NewBreakOfStructureDetector(true)

	// Prior candle already closed above the pivot: no fresh signal.
	candles := flatBars(40, 100)
	candles[30] = bar(100, 103, 99.5, 100.5, 1000)
	candles = append(candles, flatBars(8, 100)...)
	candles = append(candles, bar(100, 103.6, 100, 103.4, 1000))
	candles = append(candles, bar(103.4, 103.9, 103.2, 103.6, 1000))

	assert.Nil(t, d.Detect("AAPL", candles))
}

func TestBreakOfStructureBearish(t *testing.T) {
	d := NewBreakOfStructureDetector(false)

	candles := flatBars(40, 100)
	candles[30] = bar(100, 100.5, 97, 99.5, 1000)
	candles = append(candles, flatBars(9, 100)...)
	candles = append(candles, bar(100, 100.2, 96.5, 96.8, 1000))

	entry := d.Detect("AAPL", candles)
	require.NotNil(t, entry)
	assert.Equal(t, domain.BiasBearish, entry.Signal)
}

func TestDefaultDetectorsComplete(t *testing.T) {
	ds := DefaultDetectors()
	require.Len(t, ds, 6)

	seen := map[domain.SignalType]bool{}
	for _, d := range ds {
		seen[d.SignalType()] = true
		assert.Greater(t, d.MinCandles(), 0, d.Name())
		assert.Greater(t, int64(d.Interval()), int64(0), d.Name())
	}
	assert.True(t, seen[domain.SignalGoldenCross])
	assert.True(t, seen[domain.SignalDeathCross])
	assert.True(t, seen[domain.SignalBreakOfStructureUp])
	assert.True(t, seen[domain.SignalBreakOfStructureDn])
	assert.True(t, seen[domain.SignalLiquidityGrab])
	assert.True(t, seen[domain.SignalFVGFormation])
}
