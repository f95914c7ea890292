package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/domain"
)

// trendCandles builds n candles whose closes follow f(i).
func trendCandles(n int, f func(i int) float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		c := f(i)
		out[i] = domain.Candle{Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func TestBiasAgentNeedsMarketData(t *testing.T) {
	a := NewBiasAgent(zerolog.Nop())
	st := &domain.PipelineState{Symbol: "AAPL"}

	err := a.Process(context.Background(), st)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestBiasAgentDirections(t *testing.T) {
	a := NewBiasAgent(zerolog.Nop())
	st := &domain.PipelineState{
		Symbol: "AAPL",
		MarketData: &domain.MarketData{
			Candles: map[domain.Timeframe][]domain.Candle{
				domain.Timeframe1h: trendCandles(60, func(i int) float64 { return 100 + float64(i) }),
				domain.Timeframe4h: trendCandles(60, func(i int) float64 { return 200 - float64(i) }),
				domain.TimeframeD:  trendCandles(10, func(i int) float64 { return 100 }),
			},
		},
	}

	require.NoError(t, a.Process(context.Background(), st))
	assert.Equal(t, domain.BiasBullish, st.Biases["1h"])
	assert.Equal(t, domain.BiasBearish, st.Biases["4h"])
	// Too few candles to judge.
	assert.Equal(t, domain.BiasNeutral, st.Biases["D"])
	assert.Len(t, st.AgentReports, 1)
}
