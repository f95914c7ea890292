package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/dataplane"
	"github.com/aristath/tradewinds/internal/domain"
)

// analysisTimeframes are the windows later agents read.
var analysisTimeframes = []domain.Timeframe{
	domain.Timeframe15m, domain.Timeframe1h, domain.Timeframe4h, domain.TimeframeD,
}

const analysisDepth = 250

// MarketDataAgent loads the quote and candle windows the rest of the chain
// works from.
type MarketDataAgent struct {
	data *dataplane.Service
	log  zerolog.Logger
}

// NewMarketDataAgent creates the agent.
func NewMarketDataAgent(data *dataplane.Service, log zerolog.Logger) *MarketDataAgent {
	return &MarketDataAgent{
		data: data,
		log:  log.With().Str("agent", TypeMarketData).Logger(),
	}
}

func (a *MarketDataAgent) Type() string { return TypeMarketData }

func (a *MarketDataAgent) Process(ctx context.Context, st *domain.PipelineState) error {
	quote, err := a.data.GetQuote(ctx, st.Symbol)
	if err != nil {
		return fmt.Errorf("InsufficientDataError: no quote for %s: %w", st.Symbol, err)
	}

	candles := make(map[domain.Timeframe][]domain.Candle, len(analysisTimeframes))
	for _, tf := range analysisTimeframes {
		window, err := a.data.GetCandles(ctx, st.Symbol, tf, analysisDepth)
		if err != nil {
			a.log.Warn().Err(err).
				Str("symbol", st.Symbol).
				Str("timeframe", string(tf)).
				Msg("candle window unavailable")
			continue
		}
		candles[tf] = window
	}
	if len(candles) == 0 {
		return fmt.Errorf("InsufficientDataError: no candles for %s: %w", st.Symbol, ErrInsufficientData)
	}

	st.MarketData = &domain.MarketData{
		CurrentPrice: quote.CurrentPrice,
		Bid:          quote.Bid,
		Ask:          quote.Ask,
		Candles:      candles,
	}
	st.Log(fmt.Sprintf("market data loaded for %s: price %.2f, %d timeframes",
		st.Symbol, quote.CurrentPrice, len(candles)))
	return nil
}
