package agents

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

// StrategyAgent turns the bias picture and the triggering signal into a
// trade plan: direction, entry, ATR-sized stop and a two-to-one target.
// Conflicting or neutral evidence yields HOLD.
type StrategyAgent struct {
	log zerolog.Logger
}

// NewStrategyAgent creates the agent.
func NewStrategyAgent(log zerolog.Logger) *StrategyAgent {
	return &StrategyAgent{log: log.With().Str("agent", TypeStrategy).Logger()}
}

func (a *StrategyAgent) Type() string { return TypeStrategy }

func (a *StrategyAgent) Process(ctx context.Context, st *domain.PipelineState) error {
	if st.MarketData == nil {
		return fmt.Errorf("InsufficientDataError: strategy needs market data: %w", ErrInsufficientData)
	}
	if len(st.Biases) == 0 {
		return fmt.Errorf("strategy needs bias output: %w", ErrInsufficientData)
	}

	bullish, bearish := 0, 0
	for _, b := range st.Biases {
		switch b {
		case domain.BiasBullish:
			bullish++
		case domain.BiasBearish:
			bearish++
		}
	}

	direction := domain.BiasNeutral
	if bullish > bearish && bullish >= 2 {
		direction = domain.BiasBullish
	} else if bearish > bullish && bearish >= 2 {
		direction = domain.BiasBearish
	}

	// The triggering signal must agree with the bias picture; a bullish
	// signal into bearish structure is a pass, not a fade.
	if st.SignalContext != nil {
		if sigDir := signalDirection(st.SignalContext.SignalType); sigDir != domain.BiasNeutral && direction != domain.BiasNeutral && sigDir != direction {
			st.Strategy = &domain.Strategy{
				Action:    domain.ActionHold,
				Reasoning: "signal direction conflicts with timeframe bias",
			}
			st.Log("strategy: HOLD, signal conflicts with bias")
			return nil
		}
	}

	if direction == domain.BiasNeutral {
		st.Strategy = &domain.Strategy{
			Action:    domain.ActionHold,
			Reasoning: "no timeframe consensus",
		}
		st.Log("strategy: HOLD, no consensus")
		return nil
	}

	price := st.MarketData.CurrentPrice
	atr := currentATR(st.MarketData.Candles[domain.Timeframe1h])
	if atr <= 0 {
		atr = price * 0.01
	}

	action := domain.ActionBuy
	stop := price - 2*atr
	target := price + 4*atr
	if direction == domain.BiasBearish {
		action = domain.ActionSell
		stop = price + 2*atr
		target = price - 4*atr
	}

	confidence := 50.0 + 10.0*float64(max(bullish, bearish))
	if st.SignalContext != nil && st.SignalContext.Confidence > 0 {
		confidence = (confidence + st.SignalContext.Confidence) / 2
	}
	if confidence > 100 {
		confidence = 100
	}

	st.Strategy = &domain.Strategy{
		Action:     action,
		EntryPrice: price,
		StopLoss:   stop,
		TakeProfit: target,
		Confidence: confidence,
		Reasoning: fmt.Sprintf("%s consensus on %d/%d timeframes, ATR %.2f",
			direction, max(bullish, bearish), len(st.Biases), atr),
	}
	st.Log(fmt.Sprintf("strategy: %s entry %.2f stop %.2f target %.2f", action, price, stop, target))
	st.Report(TypeStrategy, "plan", string(action), map[string]interface{}{
		"entry":       price,
		"stop_loss":   stop,
		"take_profit": target,
	})
	return nil
}

func signalDirection(st domain.SignalType) domain.Bias {
	switch st {
	case domain.SignalGoldenCross, domain.SignalBreakOfStructureUp:
		return domain.BiasBullish
	case domain.SignalDeathCross, domain.SignalBreakOfStructureDn:
		return domain.BiasBearish
	}
	// Liquidity grabs and FVGs carry direction per ticker, not per type.
	return domain.BiasNeutral
}

func currentATR(candles []domain.Candle) float64 {
	if len(candles) < 15 {
		return 0
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	atr := talib.Atr(highs, lows, closes, 14)
	return atr[len(atr)-1]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
