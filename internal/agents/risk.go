package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/domain"
)

const (
	// riskPerTrade is the fraction of account equity put at risk between
	// entry and stop.
	riskPerTrade  = 0.01
	minRiskReward = 1.5
	// maxPositionFraction caps notional exposure per trade.
	maxPositionFraction = 0.20
)

// RiskManagerAgent sizes the position and can veto the trade. Its failures
// are always critical: no verdict, no trade.
type RiskManagerAgent struct {
	broker broker.Broker
	log    zerolog.Logger
}

// NewRiskManagerAgent creates the agent bound to the execution's broker.
func NewRiskManagerAgent(b broker.Broker, log zerolog.Logger) *RiskManagerAgent {
	return &RiskManagerAgent{
		broker: b,
		log:    log.With().Str("agent", TypeRiskManager).Logger(),
	}
}

func (a *RiskManagerAgent) Type() string { return TypeRiskManager }

func (a *RiskManagerAgent) Process(ctx context.Context, st *domain.PipelineState) error {
	if st.Strategy == nil {
		return fmt.Errorf("risk manager needs a strategy: %w", ErrInsufficientData)
	}
	if st.Strategy.Action == domain.ActionHold {
		st.RiskAssessment = &domain.RiskAssessment{
			Approved:  false,
			Reasoning: "nothing to size: strategy is HOLD",
		}
		st.Log("risk: no action, strategy is HOLD")
		return nil
	}

	if a.broker == nil {
		st.RiskAssessment = &domain.RiskAssessment{
			Approved:  false,
			Reasoning: "no broker configured, cannot size position",
		}
		st.Log("risk: no broker configured")
		return nil
	}

	account, err := a.broker.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to load account info: %w", err)
	}

	entry := st.Strategy.EntryPrice
	stop := st.Strategy.StopLoss
	target := st.Strategy.TakeProfit
	perUnitRisk := math.Abs(entry - stop)
	if perUnitRisk <= 0 {
		st.RiskAssessment = &domain.RiskAssessment{
			Approved:  false,
			Reasoning: "stop loss equals entry, risk undefined",
		}
		return nil
	}

	rr := math.Abs(target-entry) / perUnitRisk
	var warnings []string
	if rr < minRiskReward {
		st.RiskAssessment = &domain.RiskAssessment{
			Approved:        false,
			RiskRewardRatio: rr,
			Reasoning:       fmt.Sprintf("risk/reward %.2f below minimum %.2f", rr, minRiskReward),
		}
		st.Log(fmt.Sprintf("risk: rejected, R/R %.2f", rr))
		return nil
	}

	// Decimal arithmetic for the money path; float drift on qty rounding
	// has produced off-by-one-share orders before.
	equity := decimal.NewFromFloat(account.PortfolioValue)
	riskBudget := equity.Mul(decimal.NewFromFloat(riskPerTrade))
	qty := riskBudget.Div(decimal.NewFromFloat(perUnitRisk)).Floor()

	maxNotional := equity.Mul(decimal.NewFromFloat(maxPositionFraction))
	notional := qty.Mul(decimal.NewFromFloat(entry))
	if notional.GreaterThan(maxNotional) {
		qty = maxNotional.Div(decimal.NewFromFloat(entry)).Floor()
		warnings = append(warnings, "position capped by max exposure")
	}
	if bp := decimal.NewFromFloat(account.BuyingPower); qty.Mul(decimal.NewFromFloat(entry)).GreaterThan(bp) {
		qty = bp.Div(decimal.NewFromFloat(entry)).Floor()
		warnings = append(warnings, "position capped by buying power")
	}

	size, _ := qty.Float64()
	if size < 1 {
		st.RiskAssessment = &domain.RiskAssessment{
			Approved:        false,
			RiskRewardRatio: rr,
			Reasoning:       "account too small for one unit at this risk",
			Warnings:        warnings,
		}
		st.Log("risk: rejected, sizing below one unit")
		return nil
	}

	st.RiskAssessment = &domain.RiskAssessment{
		Approved:        true,
		PositionSize:    size,
		RiskRewardRatio: rr,
		Reasoning: fmt.Sprintf("%.0f units risks %.2f (%.1f%% of equity) at R/R %.2f",
			size, size*perUnitRisk, riskPerTrade*100, rr),
		Warnings: warnings,
	}
	st.Log(fmt.Sprintf("risk: approved %.0f units, R/R %.2f", size, rr))
	st.Report(TypeRiskManager, "assessment", "approved", map[string]interface{}{
		"position_size":     size,
		"risk_reward_ratio": rr,
	})
	return nil
}
