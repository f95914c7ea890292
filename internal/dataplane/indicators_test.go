package dataplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/domain"
)

func flatCandles(n int, price float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Open: price, High: price + 1, Low: price - 1, Close: price}
	}
	return out
}

func TestComputeIndicatorSMA(t *testing.T) {
	values, err := ComputeIndicator(IndSMA20, flatCandles(60, 100))
	require.NoError(t, err)
	require.Len(t, values, 60)
	// Flat series: every populated SMA value equals the price.
	assert.InDelta(t, 100.0, values[len(values)-1], 1e-9)
}

func TestComputeIndicatorTooFewCandles(t *testing.T) {
	_, err := ComputeIndicator(IndSMA200, flatCandles(50, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs 201 candles")
}

func TestComputeIndicatorUnknown(t *testing.T) {
	_, err := ComputeIndicator("vwap_17", flatCandles(300, 100))
	assert.Error(t, err)
}

func TestComputeIndicatorsSkipsShortSeries(t *testing.T) {
	// 60 candles is enough for most series but not SMA200.
	out := ComputeIndicators(AllIndicators, flatCandles(60, 100), 4)

	assert.Contains(t, out, IndRSI14)
	assert.Contains(t, out, IndSMA20)
	assert.Contains(t, out, IndEMA21)
	assert.NotContains(t, out, IndSMA200)
}

func TestComputeIndicatorsZeroWorkers(t *testing.T) {
	out := ComputeIndicators([]string{IndEMA9}, flatCandles(30, 100), 0)
	assert.Contains(t, out, IndEMA9)
}
