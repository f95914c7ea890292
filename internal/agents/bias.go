package agents

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

// BiasAgent derives a directional view per timeframe from moving average
// structure: price above a rising EMA21 is bullish, below a falling one is
// bearish, anything else neutral.
type BiasAgent struct {
	log zerolog.Logger
}

// NewBiasAgent creates the agent.
func NewBiasAgent(log zerolog.Logger) *BiasAgent {
	return &BiasAgent{log: log.With().Str("agent", TypeBias).Logger()}
}

func (a *BiasAgent) Type() string { return TypeBias }

func (a *BiasAgent) Process(ctx context.Context, st *domain.PipelineState) error {
	if st.MarketData == nil || len(st.MarketData.Candles) == 0 {
		return fmt.Errorf("InsufficientDataError: bias needs market data: %w", ErrInsufficientData)
	}

	biases := make(map[string]domain.Bias, len(st.MarketData.Candles))
	for tf, candles := range st.MarketData.Candles {
		bias := timeframeBias(candles)
		biases[string(tf)] = bias
	}
	st.Biases = biases
	st.Log(fmt.Sprintf("bias computed across %d timeframes", len(biases)))
	st.Report(TypeBias, "analysis", "directional bias per timeframe", map[string]interface{}{
		"biases": biases,
	})
	return nil
}

func timeframeBias(candles []domain.Candle) domain.Bias {
	if len(candles) < 25 {
		return domain.BiasNeutral
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	ema := talib.Ema(closes, 21)
	n := len(closes) - 1
	price := closes[n]
	rising := ema[n] > ema[n-3]

	switch {
	case price > ema[n] && rising:
		return domain.BiasBullish
	case price < ema[n] && !rising:
		return domain.BiasBearish
	default:
		return domain.BiasNeutral
	}
}
