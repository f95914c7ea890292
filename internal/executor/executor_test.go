package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/agents"
	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/events"
	"github.com/aristath/tradewinds/internal/pipeline"
	"github.com/aristath/tradewinds/internal/queue"
)

type fakePipelines struct {
	byID map[string]*domain.Pipeline
}

func (f *fakePipelines) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	return p, nil
}

type fakeExecutions struct {
	active     int
	activeErr  error
	trading    bool
	tradingErr error

	created []*domain.Execution
	updated []*domain.Execution
}

func (f *fakeExecutions) Create(ctx context.Context, e *domain.Execution) error {
	f.created = append(f.created, e)
	return nil
}

func (f *fakeExecutions) UpdateCAS(ctx context.Context, e *domain.Execution) error {
	f.updated = append(f.updated, e)
	return nil
}

func (f *fakeExecutions) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	return nil, pipeline.ErrNotFound
}

func (f *fakeExecutions) CountActive(ctx context.Context, pipelineID, symbol string) (int, error) {
	return f.active, f.activeErr
}

func (f *fakeExecutions) HasActiveTrade(ctx context.Context, userID, symbol string) (bool, error) {
	return f.trading, f.tradingErr
}

type fakeUsers struct {
	budget *domain.UserBudget
}

func (f *fakeUsers) GetBudget(ctx context.Context, userID string) (*domain.UserBudget, error) {
	return f.budget, nil
}

func (f *fakeUsers) AddSpend(ctx context.Context, userID string, amount float64) error {
	return nil
}

func newGuardedExecutor(t *testing.T, execs *fakeExecutions, users *fakeUsers) *Executor {
	t.Helper()
	pipes := &fakePipelines{byID: map[string]*domain.Pipeline{
		"p1": {ID: "p1", UserID: "u1", IsActive: true},
	}}
	ev := events.NewManager(events.NewBus(zerolog.Nop()), zerolog.Nop())
	return New(pipes, execs, users, nil, nil, nil, ev, nil, zerolog.Nop())
}

func executionJob() *queue.Job {
	return &queue.Job{ID: "j1", Payload: map[string]interface{}{
		"pipeline_id": "p1",
		"user_id":     "u1",
		"ticker":      "AAPL",
		"mode":        "paper",
	}}
}

func TestHandleJobSkipsDuplicateExecution(t *testing.T) {
	execs := &fakeExecutions{active: 1}
	e := newGuardedExecutor(t, execs, &fakeUsers{budget: &domain.UserBudget{}})

	require.NoError(t, e.HandleJob(context.Background(), executionJob()))
	assert.Empty(t, execs.created)
}

func TestHandleJobSkipsWhenUserAlreadyTrading(t *testing.T) {
	execs := &fakeExecutions{trading: true}
	e := newGuardedExecutor(t, execs, &fakeUsers{budget: &domain.UserBudget{}})

	require.NoError(t, e.HandleJob(context.Background(), executionJob()))
	assert.Empty(t, execs.created)
}

// Guard checks fail closed: a database error surfaces as a retryable job
// failure instead of letting a possible duplicate through.
func TestHandleJobFailsClosedOnGuardError(t *testing.T) {
	execs := &fakeExecutions{activeErr: errors.New("db down")}
	e := newGuardedExecutor(t, execs, &fakeUsers{budget: &domain.UserBudget{}})

	require.Error(t, e.HandleJob(context.Background(), executionJob()))
	assert.Empty(t, execs.created)

	execs = &fakeExecutions{tradingErr: errors.New("db down")}
	e = newGuardedExecutor(t, execs, &fakeUsers{budget: &domain.UserBudget{}})
	require.Error(t, e.HandleJob(context.Background(), executionJob()))
	assert.Empty(t, execs.created)
}

func TestHandleJobBudgetExhausted(t *testing.T) {
	execs := &fakeExecutions{}
	users := &fakeUsers{budget: &domain.UserBudget{DailyLimit: 10, DailySpent: 10}}
	e := newGuardedExecutor(t, execs, users)

	require.NoError(t, e.HandleJob(context.Background(), executionJob()))
	require.Len(t, execs.created, 1)

	row := execs.created[0]
	assert.Equal(t, domain.StatusFailed, row.Status)
	assert.Equal(t, domain.PhaseCompleted, row.Phase)
	assert.Contains(t, row.ErrorMessage, "BudgetExceededException")
	require.NotNil(t, row.CompletedAt)
}

func TestActionable(t *testing.T) {
	assert.False(t, actionable(&domain.PipelineState{}))

	st := &domain.PipelineState{
		Strategy:       &domain.Strategy{Action: domain.ActionBuy},
		RiskAssessment: &domain.RiskAssessment{Approved: true},
	}
	assert.True(t, actionable(st))

	st.Strategy.Action = domain.ActionSell
	assert.True(t, actionable(st))

	st.Strategy.Action = domain.ActionHold
	assert.False(t, actionable(st))

	st.Strategy.Action = domain.ActionBuy
	st.RiskAssessment.Approved = false
	assert.False(t, actionable(st))
}

func TestSignalFromPayload(t *testing.T) {
	sc := domain.SignalContext{SignalID: "sig-1", SignalType: domain.SignalGoldenCross}

	// Struct value, pointer, and the decoded-map form all round-trip.
	got := signalFromPayload(sc)
	require.NotNil(t, got)
	assert.Equal(t, "sig-1", got.SignalID)

	got = signalFromPayload(&sc)
	require.NotNil(t, got)
	assert.Equal(t, "sig-1", got.SignalID)

	got = signalFromPayload(map[string]interface{}{
		"signal_id":   "sig-2",
		"signal_type": "golden_cross",
		"confidence":  80.5,
	})
	require.NotNil(t, got)
	assert.Equal(t, "sig-2", got.SignalID)
	assert.Equal(t, domain.SignalGoldenCross, got.SignalType)
	assert.Equal(t, 80.5, got.Confidence)

	assert.Nil(t, signalFromPayload(nil))
	assert.Nil(t, signalFromPayload("garbage"))
}

func TestInitialAgentStates(t *testing.T) {
	p := &domain.Pipeline{Nodes: []domain.AgentNode{
		{ID: "n3", AgentType: agents.TypeStrategy},
		{ID: "n1", AgentType: agents.TypeMarketData},
		{ID: "nx", AgentType: "notes_tool"},
	}}

	states := initialAgentStates(p)
	require.Len(t, states, 2)
	// Ordered by the fixed sequence, not node order; unknown types skipped.
	assert.Equal(t, agents.TypeMarketData, states[0].AgentType)
	assert.Equal(t, agents.TypeStrategy, states[1].AgentType)
	for _, s := range states {
		assert.Equal(t, domain.AgentPending, s.Status)
	}
}

func TestNewStateCopiesExecution(t *testing.T) {
	sig := &domain.SignalContext{SignalID: "sig-1"}
	exec := &domain.Execution{
		Symbol:                 "AAPL",
		Mode:                   domain.ModePaper,
		Signal:                 sig,
		MonitorIntervalMinutes: 5.0,
	}

	st := newState(exec)
	assert.Equal(t, "AAPL", st.Symbol)
	assert.Equal(t, domain.ModePaper, st.Mode)
	assert.Equal(t, sig, st.SignalContext)
	assert.Equal(t, domain.PhasePending, st.Phase)
}

func TestSignalID(t *testing.T) {
	assert.Equal(t, "", signalID(nil))
	assert.Equal(t, "sig-1", signalID(&domain.SignalContext{SignalID: "sig-1"}))
}
