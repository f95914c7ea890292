// Package tasks contains the background loops that keep executions honest
// after the executor hands them off: trade monitoring, reconciliation, and
// the scheduled housekeeping jobs.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/events"
	"github.com/aristath/tradewinds/internal/notify"
	"github.com/aristath/tradewinds/internal/pipeline"
	"github.com/aristath/tradewinds/internal/queue"
	"github.com/aristath/tradewinds/internal/trademanager"
)

const (
	// monitorPollInterval is how often the claim loop scans for due rows.
	monitorPollInterval = 15 * time.Second
	monitorClaimBatch   = 50

	// monitorMaxAge bounds how long one execution may stay in monitoring
	// before the run is failed outright.
	monitorMaxAge = 24 * time.Hour

	// commRetryInterval is the tightened cadence for rows in the
	// communication-error state.
	commRetryInterval = 60 * time.Second
)

// ExecutionStore is the execution persistence surface the background tasks
// need. Implemented by *pipeline.ExecutionRepository.
type ExecutionStore interface {
	GetByID(ctx context.Context, id string) (*domain.Execution, error)
	UpdateCAS(ctx context.Context, e *domain.Execution) error
	ListDueMonitors(ctx context.Context, now time.Time, limit int) ([]*domain.Execution, error)
	ListByStatus(ctx context.Context, status domain.ExecutionStatus, limit int) ([]*domain.Execution, error)
	RescueOrphans(ctx context.Context, olderThan time.Time, nudge time.Duration) (int64, error)
}

// PipelineStore is the pipeline lookup the tasks need. Implemented by
// *pipeline.Repository.
type PipelineStore interface {
	GetByID(ctx context.Context, id string) (*domain.Pipeline, error)
}

// UserDirectory lists the users reconciliation fans out over. Implemented
// by *pipeline.UserRepository.
type UserDirectory interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// MonitorTask drives the monitoring phase: it claims due executions and
// runs one trade manager check per claim.
type MonitorTask struct {
	execs   ExecutionStore
	pipes   PipelineStore
	brokers *broker.Factory
	hours   *broker.MarketHoursChecker
	queue   *queue.Manager
	events  *events.Manager
	notify  *notify.Telegram
	log     zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitorTask creates the monitor task.
func NewMonitorTask(
	execs ExecutionStore,
	pipes PipelineStore,
	brokers *broker.Factory,
	hours *broker.MarketHoursChecker,
	q *queue.Manager,
	ev *events.Manager,
	tg *notify.Telegram,
	log zerolog.Logger,
) *MonitorTask {
	return &MonitorTask{
		execs:   execs,
		pipes:   pipes,
		brokers: brokers,
		hours:   hours,
		queue:   q,
		events:  ev,
		notify:  tg,
		log:     log.With().Str("task", "monitor").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the claim loop.
func (t *MonitorTask) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(monitorPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.claimDue(ctx)
			}
		}
	}()
}

// Stop terminates the claim loop.
func (t *MonitorTask) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// claimDue moves each due execution's next check forward via CAS before
// enqueuing, so two scanners never double-enqueue the same row.
func (t *MonitorTask) claimDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := t.execs.ListDueMonitors(ctx, now, monitorClaimBatch)
	if err != nil {
		t.log.Error().Err(err).Msg("Failed to list due monitors")
		return
	}
	for _, exec := range due {
		next := now.Add(exec.MonitorInterval())
		exec.NextCheckAt = &next
		if err := t.execs.UpdateCAS(ctx, exec); err != nil {
			if !errors.Is(err, pipeline.ErrVersionConflict) {
				t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to claim monitor")
			}
			continue
		}
		if err := t.queue.Enqueue(&queue.Job{
			Type:     queue.JobTypeMonitorCheck,
			Priority: queue.PriorityHigh,
			Payload:  map[string]interface{}{"execution_id": exec.ID},
		}); err != nil {
			t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to enqueue monitor check")
		}
	}
}

// HandleJob is the queue handler for one monitor check.
func (t *MonitorTask) HandleJob(ctx context.Context, job *queue.Job) error {
	executionID, _ := job.Payload["execution_id"].(string)
	if executionID == "" {
		return fmt.Errorf("monitor job %s missing execution_id", job.ID)
	}

	exec, err := t.execs.GetByID(ctx, executionID)
	if err == pipeline.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if exec.Status != domain.StatusMonitoring && exec.Status != domain.StatusCommunicationError {
		t.log.Debug().
			Str("execution_id", executionID).
			Str("status", string(exec.Status)).
			Msg("Execution no longer monitorable, dropping check")
		return nil
	}

	if exec.StartedAt != nil && time.Since(*exec.StartedAt) > monitorMaxAge {
		return t.conclude(ctx, exec, nil, domain.StatusFailed,
			"monitoring exceeded 24h without conclusion")
	}

	st, err := t.restoreState(exec)
	if err != nil {
		t.log.Error().Err(err).Str("execution_id", executionID).Msg("Cannot restore monitoring state")
		return t.conclude(ctx, exec, nil, domain.StatusNeedsReconciliation,
			"monitoring state lost: "+err.Error())
	}

	p, err := t.pipes.GetByID(ctx, exec.PipelineID)
	if err != nil {
		return err
	}
	brk := t.resolveBroker(p)
	if brk == nil {
		return t.conclude(ctx, exec, st, domain.StatusNeedsReconciliation,
			"broker unavailable for monitoring")
	}

	st.Phase = domain.PhaseMonitoring
	tm := trademanager.New(brk, t.hours, t.log)
	if err := tm.Process(ctx, st); err != nil {
		return err
	}

	return t.apply(ctx, exec, p, st)
}

// apply maps one monitor pass's verdict onto the execution row.
func (t *MonitorTask) apply(ctx context.Context, exec *domain.Execution, p *domain.Pipeline, st *domain.PipelineState) error {
	old := exec.Status
	t.applyVerdict(exec, st, time.Now().UTC())

	t.syncRow(exec, st)
	if err := t.commit(ctx, exec); err != nil {
		return err
	}

	if old != exec.Status {
		t.events.EmitTyped("monitor", &events.ExecutionStatusChangedData{
			ExecutionID: exec.ID,
			PipelineID:  exec.PipelineID,
			Symbol:      exec.Symbol,
			OldStatus:   string(old),
			NewStatus:   string(exec.Status),
		})
	}
	if exec.Status.Terminal() {
		t.announceClose(ctx, exec, p, st)
	}
	return nil
}

// applyVerdict translates the trade manager's flags into row status,
// phase and the next check time.
func (t *MonitorTask) applyVerdict(exec *domain.Execution, st *domain.PipelineState, now time.Time) {
	switch {
	case st.ShouldComplete && st.TradeOutcome != nil:
		switch st.TradeOutcome.Status {
		case domain.OutcomeExecuted:
			exec.Status = domain.StatusCompleted
			exec.Phase = domain.PhaseCompleted
		case domain.OutcomeCancelled:
			// A cancelled entry is a normal conclusion with zero P&L,
			// not an aborted run.
			if st.TradeOutcome.PnL == nil {
				zero := 0.0
				st.TradeOutcome.PnL = &zero
			}
			exec.Status = domain.StatusCompleted
			exec.Phase = domain.PhaseCompleted
		default:
			exec.Status = domain.StatusNeedsReconciliation
			exec.Phase = domain.PhaseNeedsReconciliation
		}
		exec.CompletedAt = &now
		exec.NextCheckAt = nil
	case st.CommunicationError:
		// Broker trouble gets the tight retry cadence, not the normal one.
		exec.Status = domain.StatusCommunicationError
		exec.MonitorIntervalMinutes = st.MonitorIntervalMinutes
		next := now.Add(commRetryInterval)
		exec.NextCheckAt = &next
	default:
		// A clean check recovers a communication-error row.
		exec.Status = domain.StatusMonitoring
		t.scheduleNext(exec, st, now)
	}
}

func (t *MonitorTask) scheduleNext(exec *domain.Execution, st *domain.PipelineState, now time.Time) {
	exec.MonitorIntervalMinutes = st.MonitorIntervalMinutes
	next := now.Add(exec.MonitorInterval())
	exec.NextCheckAt = &next
}

// conclude force-finishes an execution outside the normal monitor flow.
func (t *MonitorTask) conclude(ctx context.Context, exec *domain.Execution, st *domain.PipelineState, status domain.ExecutionStatus, reason string) error {
	old := exec.Status
	now := time.Now().UTC()
	exec.Status = status
	if status == domain.StatusNeedsReconciliation {
		exec.Phase = domain.PhaseNeedsReconciliation
	} else {
		exec.Phase = domain.PhaseCompleted
	}
	exec.ErrorMessage = reason
	exec.CompletedAt = &now
	exec.NextCheckAt = nil
	if st != nil {
		t.syncRow(exec, st)
	}
	if err := t.commit(ctx, exec); err != nil {
		return err
	}
	t.events.EmitTyped("monitor", &events.ExecutionStatusChangedData{
		ExecutionID: exec.ID,
		PipelineID:  exec.PipelineID,
		Symbol:      exec.Symbol,
		OldStatus:   string(old),
		NewStatus:   string(status),
	})
	t.log.Warn().
		Str("execution_id", exec.ID).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("Execution force-concluded")
	return nil
}

// commit writes the row, absorbing one version conflict by reapplying the
// update on a fresh read. The monitor owns these rows, so a conflict means
// a claim raced us, not a semantic disagreement.
func (t *MonitorTask) commit(ctx context.Context, exec *domain.Execution) error {
	err := t.execs.UpdateCAS(ctx, exec)
	if !errors.Is(err, pipeline.ErrVersionConflict) {
		return err
	}
	fresh, err := t.execs.GetByID(ctx, exec.ID)
	if err != nil {
		return err
	}
	exec.Version = fresh.Version
	return t.execs.UpdateCAS(ctx, exec)
}

func (t *MonitorTask) syncRow(exec *domain.Execution, st *domain.PipelineState) {
	exec.Result = &domain.ExecutionResult{
		Bias:           st.Biases,
		Strategy:       st.Strategy,
		RiskAssessment: st.RiskAssessment,
		TradeExecution: st.TradeExecution,
		TradeOutcome:   st.TradeOutcome,
		AgentReports:   st.AgentReports,
	}
	exec.Logs = st.ExecutionLog
	exec.Reports = st.AgentReports
	if snap, err := domain.EncodeSnapshot(st); err == nil {
		exec.Snapshot = snap
	} else {
		t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to snapshot state")
	}
}

func (t *MonitorTask) restoreState(exec *domain.Execution) (*domain.PipelineState, error) {
	st, err := domain.DecodeSnapshot(exec.Snapshot)
	if err == nil {
		return st, nil
	}
	t.log.Warn().Err(err).
		Str("execution_id", exec.ID).
		Msg("Snapshot unusable, reconstructing from result")
	return domain.ReconstructState(exec)
}

func (t *MonitorTask) resolveBroker(p *domain.Pipeline) broker.Broker {
	if p.BrokerType == "" {
		return nil
	}
	brk, err := t.brokers.ResolveCached(broker.Key{
		BrokerType:  p.BrokerType,
		AccountID:   p.AccountID,
		AccountType: p.AccountType,
	})
	if err != nil {
		t.log.Error().Err(err).Str("pipeline_id", p.ID).Msg("Broker unavailable")
		return nil
	}
	return brk
}

func (t *MonitorTask) announceClose(ctx context.Context, exec *domain.Execution, p *domain.Pipeline, st *domain.PipelineState) {
	outcome := st.TradeOutcome
	if outcome == nil {
		return
	}
	t.events.EmitTyped("monitor", &events.PositionClosedData{
		ExecutionID: exec.ID,
		Symbol:      exec.Symbol,
		Outcome:     string(outcome.Status),
		PnL:         outcome.PnL,
		ExitReason:  outcome.ExitReason,
	})
	if p.WantsNotification(notify.EventPositionClosed) {
		pnl := "unconfirmed"
		if outcome.PnL != nil {
			pnl = fmt.Sprintf("%.2f", *outcome.PnL)
		}
		t.notify.SendQuiet(ctx, fmt.Sprintf(
			"*Position closed*\n%s: %s (P&L %s)", exec.Symbol, outcome.ExitReason, pnl))
	}
}
