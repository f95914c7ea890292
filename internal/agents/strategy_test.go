package agents

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/domain"
)

func strategyInput(biases map[string]domain.Bias) *domain.PipelineState {
	return &domain.PipelineState{
		Symbol: "AAPL",
		MarketData: &domain.MarketData{
			CurrentPrice: 100,
			Candles: map[domain.Timeframe][]domain.Candle{
				domain.Timeframe1h: trendCandles(60, func(i int) float64 { return 100 }),
			},
		},
		Biases: biases,
	}
}

func TestStrategyBullishConsensus(t *testing.T) {
	a := NewStrategyAgent(zerolog.Nop())
	st := strategyInput(map[string]domain.Bias{
		"15m": domain.BiasBullish,
		"1h":  domain.BiasBullish,
		"4h":  domain.BiasNeutral,
	})

	require.NoError(t, a.Process(context.Background(), st))
	require.NotNil(t, st.Strategy)
	assert.Equal(t, domain.ActionBuy, st.Strategy.Action)
	assert.Equal(t, 100.0, st.Strategy.EntryPrice)
	assert.Less(t, st.Strategy.StopLoss, st.Strategy.EntryPrice)
	assert.Greater(t, st.Strategy.TakeProfit, st.Strategy.EntryPrice)
	assert.True(t, st.Strategy.HasBracket())
}

func TestStrategyBearishConsensus(t *testing.T) {
	a := NewStrategyAgent(zerolog.Nop())
	st := strategyInput(map[string]domain.Bias{
		"15m": domain.BiasBearish,
		"1h":  domain.BiasBearish,
		"4h":  domain.BiasBullish,
	})

	require.NoError(t, a.Process(context.Background(), st))
	assert.Equal(t, domain.ActionSell, st.Strategy.Action)
	assert.Greater(t, st.Strategy.StopLoss, st.Strategy.EntryPrice)
	assert.Less(t, st.Strategy.TakeProfit, st.Strategy.EntryPrice)
}

func TestStrategyNoConsensusHolds(t *testing.T) {
	a := NewStrategyAgent(zerolog.Nop())
	st := strategyInput(map[string]domain.Bias{
		"15m": domain.BiasBullish,
		"1h":  domain.BiasBearish,
		"4h":  domain.BiasNeutral,
	})

	require.NoError(t, a.Process(context.Background(), st))
	assert.Equal(t, domain.ActionHold, st.Strategy.Action)
}

func TestStrategySignalConflictHolds(t *testing.T) {
	a := NewStrategyAgent(zerolog.Nop())
	st := strategyInput(map[string]domain.Bias{
		"15m": domain.BiasBullish,
		"1h":  domain.BiasBullish,
	})
	st.SignalContext = &domain.SignalContext{SignalType: domain.SignalDeathCross}

	require.NoError(t, a.Process(context.Background(), st))
	assert.Equal(t, domain.ActionHold, st.Strategy.Action)
	assert.Contains(t, st.Strategy.Reasoning, "conflicts")
}

func TestStrategySignalAgreementBlendsConfidence(t *testing.T) {
	a := NewStrategyAgent(zerolog.Nop())
	st := strategyInput(map[string]domain.Bias{
		"15m": domain.BiasBullish,
		"1h":  domain.BiasBullish,
	})
	st.SignalContext = &domain.SignalContext{
		SignalType: domain.SignalGoldenCross,
		Confidence: 90,
	}

	require.NoError(t, a.Process(context.Background(), st))
	assert.Equal(t, domain.ActionBuy, st.Strategy.Action)
	// (50 + 10*2 + 90) / 2
	assert.InDelta(t, 80.0, st.Strategy.Confidence, 0.001)
}

func TestStrategyNeedsInputs(t *testing.T) {
	a := NewStrategyAgent(zerolog.Nop())

	err := a.Process(context.Background(), &domain.PipelineState{})
	assert.ErrorIs(t, err, ErrInsufficientData)

	err = a.Process(context.Background(), &domain.PipelineState{MarketData: &domain.MarketData{}})
	assert.ErrorIs(t, err, ErrInsufficientData)
}
