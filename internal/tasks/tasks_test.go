package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/events"
	"github.com/aristath/tradewinds/internal/pipeline"
	"github.com/aristath/tradewinds/internal/queue"
)

type fakeExecStore struct {
	byID    map[string]*domain.Execution
	flagged []*domain.Execution

	updates      int
	rescued      int64
	rescueCutoff *time.Time
}

func (f *fakeExecStore) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	return e, nil
}

func (f *fakeExecStore) UpdateCAS(ctx context.Context, e *domain.Execution) error {
	f.updates++
	return nil
}

func (f *fakeExecStore) ListDueMonitors(ctx context.Context, now time.Time, limit int) ([]*domain.Execution, error) {
	return nil, nil
}

func (f *fakeExecStore) ListByStatus(ctx context.Context, status domain.ExecutionStatus, limit int) ([]*domain.Execution, error) {
	return f.flagged, nil
}

func (f *fakeExecStore) RescueOrphans(ctx context.Context, olderThan time.Time, nudge time.Duration) (int64, error) {
	cutoff := olderThan
	f.rescueCutoff = &cutoff
	return f.rescued, nil
}

type fakePipeStore struct {
	byID map[string]*domain.Pipeline
}

func (f *fakePipeStore) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	return p, nil
}

type fakeUserDir struct {
	ids []string
}

func (f *fakeUserDir) ListActiveIDs(ctx context.Context) ([]string, error) {
	return f.ids, nil
}

func nopEvents() *events.Manager {
	return events.NewManager(events.NewBus(zerolog.Nop()), zerolog.Nop())
}

// fakeFactoryBroker returns a factory plus the shared fake it resolves for
// any pipeline with broker type "fake".
func fakeFactoryBroker(t *testing.T) (*broker.Factory, *broker.Fake) {
	t.Helper()
	factory := broker.NewFactory(broker.Credentials{}, zerolog.Nop())
	brk, err := factory.ResolveCached(broker.Key{BrokerType: "fake"})
	require.NoError(t, err)
	return factory, brk.(*broker.Fake)
}

func TestRestoreStatePrefersSnapshot(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}

	snap, err := domain.EncodeSnapshot(&domain.PipelineState{
		Symbol:         "AAPL",
		Phase:          domain.PhaseMonitoring,
		TradeExecution: &domain.TradeExecution{OrderID: "ord-1"},
	})
	require.NoError(t, err)

	exec := &domain.Execution{ID: "e1", Snapshot: snap}
	st, err := mt.restoreState(exec)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", st.TradeExecution.OrderID)
}

func TestRestoreStateFallsBackToResult(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}

	exec := &domain.Execution{
		ID:       "e1",
		Symbol:   "TSLA",
		Snapshot: []byte("not msgpack"),
		Result: &domain.ExecutionResult{
			TradeExecution: &domain.TradeExecution{OrderID: "ord-2"},
		},
	}
	st, err := mt.restoreState(exec)
	require.NoError(t, err)
	assert.Equal(t, "ord-2", st.TradeExecution.OrderID)
	assert.Equal(t, "TSLA", st.Symbol)
}

func TestRestoreStateUnrecoverable(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}

	_, err := mt.restoreState(&domain.Execution{ID: "e1"})
	assert.Error(t, err)
}

func TestScheduleNextUsesStateInterval(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}
	exec := &domain.Execution{MonitorIntervalMinutes: 5.0}
	st := &domain.PipelineState{MonitorIntervalMinutes: 0.25}

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	mt.scheduleNext(exec, st, now)

	assert.Equal(t, 0.25, exec.MonitorIntervalMinutes)
	require.NotNil(t, exec.NextCheckAt)
	assert.Equal(t, now.Add(15*time.Second), *exec.NextCheckAt)
}

func TestResolveBrokerWithoutType(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}
	assert.Nil(t, mt.resolveBroker(&domain.Pipeline{}))

	rt := &ReconcileTask{log: zerolog.Nop()}
	assert.Nil(t, rt.resolveBroker(&domain.Pipeline{}))
}

func TestTradeExecutionOf(t *testing.T) {
	assert.Nil(t, tradeExecutionOf(&domain.Execution{}))

	te := &domain.TradeExecution{OrderID: "ord-1"}
	exec := &domain.Execution{Result: &domain.ExecutionResult{TradeExecution: te}}
	assert.Equal(t, te, tradeExecutionOf(exec))
}

func TestApplyVerdictCancelledOutcome(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	exec := &domain.Execution{Status: domain.StatusMonitoring}
	st := &domain.PipelineState{
		ShouldComplete: true,
		TradeOutcome:   &domain.TradeOutcome{Status: domain.OutcomeCancelled},
	}

	mt.applyVerdict(exec, st, now)

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Equal(t, domain.PhaseCompleted, exec.Phase)
	require.NotNil(t, st.TradeOutcome.PnL)
	assert.Zero(t, *st.TradeOutcome.PnL)
	require.NotNil(t, exec.CompletedAt)
	assert.Equal(t, now, *exec.CompletedAt)
	assert.Nil(t, exec.NextCheckAt)
}

func TestApplyVerdictUnconfirmedOutcome(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}
	exec := &domain.Execution{Status: domain.StatusMonitoring}
	st := &domain.PipelineState{
		ShouldComplete: true,
		TradeOutcome:   &domain.TradeOutcome{Status: domain.OutcomeNeedsReconciliation},
	}

	mt.applyVerdict(exec, st, time.Now().UTC())

	assert.Equal(t, domain.StatusNeedsReconciliation, exec.Status)
	assert.Equal(t, domain.PhaseNeedsReconciliation, exec.Phase)
}

func TestApplyVerdictCommunicationErrorRetriesSoon(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	exec := &domain.Execution{Status: domain.StatusMonitoring, MonitorIntervalMinutes: 5}
	st := &domain.PipelineState{CommunicationError: true, MonitorIntervalMinutes: 5}

	mt.applyVerdict(exec, st, now)

	assert.Equal(t, domain.StatusCommunicationError, exec.Status)
	require.NotNil(t, exec.NextCheckAt)
	assert.Equal(t, now.Add(time.Minute), *exec.NextCheckAt)
}

func TestApplyVerdictCleanCheckRecovers(t *testing.T) {
	mt := &MonitorTask{log: zerolog.Nop()}
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	exec := &domain.Execution{Status: domain.StatusCommunicationError, MonitorIntervalMinutes: 5}
	st := &domain.PipelineState{MonitorIntervalMinutes: 5}

	mt.applyVerdict(exec, st, now)

	assert.Equal(t, domain.StatusMonitoring, exec.Status)
	require.NotNil(t, exec.NextCheckAt)
	assert.Equal(t, now.Add(5*time.Minute), *exec.NextCheckAt)
}

func TestMonitorCapFailsExecution(t *testing.T) {
	started := time.Now().UTC().Add(-25 * time.Hour)
	exec := &domain.Execution{ID: "e1", Status: domain.StatusMonitoring, StartedAt: &started}
	store := &fakeExecStore{byID: map[string]*domain.Execution{"e1": exec}}
	mt := NewMonitorTask(store, &fakePipeStore{}, nil, nil, nil, nopEvents(), nil, zerolog.Nop())

	job := &queue.Job{ID: "j1", Payload: map[string]interface{}{"execution_id": "e1"}}
	require.NoError(t, mt.HandleJob(context.Background(), job))

	assert.Equal(t, domain.StatusFailed, exec.Status)
	assert.Equal(t, domain.PhaseCompleted, exec.Phase)
	assert.Contains(t, exec.ErrorMessage, "24h")
	assert.Nil(t, exec.NextCheckAt)
	require.NotNil(t, exec.CompletedAt)
	assert.Equal(t, 1, store.updates)
}

func reconcileJob() *queue.Job {
	return &queue.Job{ID: "j1", Payload: map[string]interface{}{"user_id": "u1"}}
}

func flaggedExecution() *domain.Execution {
	completed := time.Now().UTC().Add(-10 * time.Minute)
	return &domain.Execution{
		ID:           "e1",
		PipelineID:   "p1",
		UserID:       "u1",
		Symbol:       "AAPL",
		Status:       domain.StatusNeedsReconciliation,
		Phase:        domain.PhaseNeedsReconciliation,
		ErrorMessage: "broker unavailable for monitoring",
		CompletedAt:  &completed,
		Result: &domain.ExecutionResult{
			TradeExecution: &domain.TradeExecution{TradeID: "t1", OrderID: "o1"},
		},
	}
}

// A flagged execution whose trade is still open at the broker goes back to
// monitoring with a fresh check time and a cleared error.
func TestReconcileRevivesLiveTrade(t *testing.T) {
	factory, fake := fakeFactoryBroker(t)
	fake.SetTradeDetails("t1", broker.TradeDetails{Found: true, State: "open"})

	exec := flaggedExecution()
	store := &fakeExecStore{flagged: []*domain.Execution{exec}}
	pipes := &fakePipeStore{byID: map[string]*domain.Pipeline{"p1": {ID: "p1", BrokerType: "fake"}}}
	rt := NewReconcileTask(store, pipes, &fakeUserDir{}, factory, nil, nopEvents(), zerolog.Nop())

	require.NoError(t, rt.HandleJob(context.Background(), reconcileJob()))

	assert.Equal(t, domain.StatusMonitoring, exec.Status)
	assert.Equal(t, domain.PhaseMonitoring, exec.Phase)
	assert.Empty(t, exec.ErrorMessage)
	assert.Nil(t, exec.CompletedAt)
	require.NotNil(t, exec.NextCheckAt)
}

func TestReconcileConcludesClosedTrade(t *testing.T) {
	factory, fake := fakeFactoryBroker(t)
	fake.SetTradeDetails("t1", broker.TradeDetails{
		Found:      true,
		State:      "closed",
		RealizedPL: 42.5,
		OpenPrice:  100,
		ClosePrice: 104.25,
	})

	exec := flaggedExecution()
	store := &fakeExecStore{flagged: []*domain.Execution{exec}}
	pipes := &fakePipeStore{byID: map[string]*domain.Pipeline{"p1": {ID: "p1", BrokerType: "fake"}}}
	rt := NewReconcileTask(store, pipes, &fakeUserDir{}, factory, nil, nopEvents(), zerolog.Nop())

	require.NoError(t, rt.HandleJob(context.Background(), reconcileJob()))

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	outcome := exec.Result.TradeOutcome
	require.NotNil(t, outcome)
	assert.Equal(t, domain.OutcomeExecuted, outcome.Status)
	require.NotNil(t, outcome.PnL)
	assert.Equal(t, 42.5, *outcome.PnL)
}

// A trade the broker cannot confirm in either direction stays flagged.
func TestReconcileLeavesUnknownTradeFlagged(t *testing.T) {
	factory, _ := fakeFactoryBroker(t)

	exec := flaggedExecution()
	store := &fakeExecStore{flagged: []*domain.Execution{exec}}
	pipes := &fakePipeStore{byID: map[string]*domain.Pipeline{"p1": {ID: "p1", BrokerType: "fake"}}}
	rt := NewReconcileTask(store, pipes, &fakeUserDir{}, factory, nil, nopEvents(), zerolog.Nop())

	require.NoError(t, rt.HandleJob(context.Background(), reconcileJob()))

	assert.Equal(t, domain.StatusNeedsReconciliation, exec.Status)
	assert.Zero(t, store.updates)
}

func TestFanOutRescuesAndEnqueues(t *testing.T) {
	q := queue.NewManager(zerolog.Nop())
	store := &fakeExecStore{rescued: 2}
	rt := NewReconcileTask(store, &fakePipeStore{}, &fakeUserDir{ids: []string{"u1", "u2"}}, nil, q, nopEvents(), zerolog.Nop())

	rt.FanOut(context.Background())

	require.NotNil(t, store.rescueCutoff)
	assert.WithinDuration(t, time.Now().UTC().Add(-reconcileGrace), *store.rescueCutoff, time.Minute)
	assert.Equal(t, 2, q.Size())
}
