package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatusTerminal(t *testing.T) {
	terminal := []ExecutionStatus{
		StatusCompleted, StatusFailed, StatusCancelled, StatusNeedsReconciliation,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}

	active := []ExecutionStatus{
		StatusPending, StatusRunning, StatusMonitoring,
		StatusCommunicationError, StatusAwaitingApproval, StatusPaused,
	}
	for _, s := range active {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestMonitorInterval(t *testing.T) {
	e := &Execution{MonitorIntervalMinutes: 0.25}
	assert.Equal(t, 15*time.Second, e.MonitorInterval())

	e = &Execution{MonitorIntervalMinutes: 5.0}
	assert.Equal(t, 5*time.Minute, e.MonitorInterval())

	// Unset intervals get the default rather than a hot loop.
	e = &Execution{}
	assert.Equal(t, 5*time.Minute, e.MonitorInterval())
}

func TestTradeExecutionStatusFilled(t *testing.T) {
	assert.True(t, TradeStatusFilled.Filled())
	assert.True(t, TradeStatusPartiallyFilled.Filled())
	assert.False(t, TradeStatusPendingFill.Filled())
	assert.False(t, TradeStatusCancelled.Filled())
}

func TestStrategyHasBracket(t *testing.T) {
	s := &Strategy{StopLoss: 95, TakeProfit: 110}
	assert.True(t, s.HasBracket())

	assert.False(t, (&Strategy{StopLoss: 95}).HasBracket())
	assert.False(t, (&Strategy{TakeProfit: 110}).HasBracket())
	var nilStrategy *Strategy
	assert.False(t, nilStrategy.HasBracket())
}

func TestResetMonitorFlags(t *testing.T) {
	st := &PipelineState{
		ShouldComplete:     true,
		CommunicationError: true,
		TradeOutcome:       &TradeOutcome{Status: OutcomeExecuted},
	}
	st.ResetMonitorFlags()
	assert.False(t, st.ShouldComplete)
	assert.False(t, st.CommunicationError)
	assert.Nil(t, st.TradeOutcome)
}

func TestUserBudgetExceeded(t *testing.T) {
	var nilBudget *UserBudget
	assert.False(t, nilBudget.Exceeded())

	// Zero limits mean unlimited.
	assert.False(t, (&UserBudget{DailySpent: 999, MonthlySpent: 999}).Exceeded())

	assert.True(t, (&UserBudget{DailyLimit: 10, DailySpent: 10}).Exceeded())
	assert.True(t, (&UserBudget{MonthlyLimit: 100, MonthlySpent: 250}).Exceeded())
	assert.False(t, (&UserBudget{DailyLimit: 10, DailySpent: 9.99}).Exceeded())
}

func TestPipelineWantsNotification(t *testing.T) {
	p := &Pipeline{NotifyEvents: []string{"trade_executed", "position_closed"}}
	assert.True(t, p.WantsNotification("trade_executed"))
	assert.False(t, p.WantsNotification("approval_requested"))
	assert.False(t, (&Pipeline{}).WantsNotification("trade_executed"))
}

func TestPipelineAgentNode(t *testing.T) {
	p := &Pipeline{Nodes: []AgentNode{
		{ID: "n1", AgentType: "market_data"},
		{ID: "n2", AgentType: "strategy"},
	}}

	n, ok := p.AgentNode("strategy")
	assert.True(t, ok)
	assert.Equal(t, "n2", n.ID)

	_, ok = p.AgentNode("risk_manager")
	assert.False(t, ok)
}
