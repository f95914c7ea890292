package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/domain"
)

func riskState(entry, stop, target float64) *domain.PipelineState {
	return &domain.PipelineState{
		Symbol: "AAPL",
		Strategy: &domain.Strategy{
			Action:     domain.ActionBuy,
			EntryPrice: entry,
			StopLoss:   stop,
			TakeProfit: target,
		},
	}
}

func TestRiskApprovesAndSizes(t *testing.T) {
	// Fake account: 100k equity, 200k buying power. 1% risk = 1000;
	// per-unit risk 2.00 sizes 500 units, but 20% exposure caps notional
	// at 20k, so 200 units at entry 100.
	a := NewRiskManagerAgent(broker.NewFake(), zerolog.Nop())
	st := riskState(100, 98, 106)

	require.NoError(t, a.Process(context.Background(), st))
	require.NotNil(t, st.RiskAssessment)
	assert.True(t, st.RiskAssessment.Approved)
	assert.Equal(t, 200.0, st.RiskAssessment.PositionSize)
	assert.InDelta(t, 3.0, st.RiskAssessment.RiskRewardRatio, 0.001)
	assert.Contains(t, st.RiskAssessment.Warnings, "position capped by max exposure")
}

func TestRiskRejectsPoorRiskReward(t *testing.T) {
	a := NewRiskManagerAgent(broker.NewFake(), zerolog.Nop())
	st := riskState(100, 98, 101) // R/R 0.5

	require.NoError(t, a.Process(context.Background(), st))
	assert.False(t, st.RiskAssessment.Approved)
	assert.InDelta(t, 0.5, st.RiskAssessment.RiskRewardRatio, 0.001)
}

func TestRiskRejectsUndefinedRisk(t *testing.T) {
	a := NewRiskManagerAgent(broker.NewFake(), zerolog.Nop())
	st := riskState(100, 100, 110)

	require.NoError(t, a.Process(context.Background(), st))
	assert.False(t, st.RiskAssessment.Approved)
}

func TestRiskHoldNeedsNoSizing(t *testing.T) {
	a := NewRiskManagerAgent(broker.NewFake(), zerolog.Nop())
	st := &domain.PipelineState{Strategy: &domain.Strategy{Action: domain.ActionHold}}

	require.NoError(t, a.Process(context.Background(), st))
	assert.False(t, st.RiskAssessment.Approved)
}

func TestRiskWithoutBrokerRejects(t *testing.T) {
	a := NewRiskManagerAgent(nil, zerolog.Nop())
	st := riskState(100, 98, 106)

	require.NoError(t, a.Process(context.Background(), st))
	assert.False(t, st.RiskAssessment.Approved)
	assert.Contains(t, st.RiskAssessment.Reasoning, "no broker")
}

func TestRiskAccountFailureIsError(t *testing.T) {
	f := broker.NewFake()
	f.Err = errors.New("auth expired")
	a := NewRiskManagerAgent(f, zerolog.Nop())
	st := riskState(100, 98, 106)

	err := a.Process(context.Background(), st)
	assert.Error(t, err)
	assert.Nil(t, st.RiskAssessment)
}

func TestRiskNeedsStrategy(t *testing.T) {
	a := NewRiskManagerAgent(broker.NewFake(), zerolog.Nop())
	err := a.Process(context.Background(), &domain.PipelineState{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}
