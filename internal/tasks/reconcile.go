package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/events"
	"github.com/aristath/tradewinds/internal/queue"
)

const (
	// reconcileGrace keeps freshly flagged rows out of reconciliation for
	// a few minutes: most transient broker failures heal on their own.
	reconcileGrace = 3 * time.Minute

	// orphanNudge is how far a stale monitoring row's next check is pushed
	// so a recovered worker picks it up promptly.
	orphanNudge = 15 * time.Second

	reconcileBatch = 100
)

// ReconcileTask resolves executions stuck in NEEDS_RECONCILIATION against
// the broker's books, one user at a time. The broker is the sole source of
// truth: a trade the broker cannot confirm stays unresolved.
type ReconcileTask struct {
	execs   ExecutionStore
	pipes   PipelineStore
	users   UserDirectory
	brokers *broker.Factory
	queue   *queue.Manager
	events  *events.Manager
	log     zerolog.Logger
}

// NewReconcileTask creates the reconcile task.
func NewReconcileTask(
	execs ExecutionStore,
	pipes PipelineStore,
	users UserDirectory,
	brokers *broker.Factory,
	q *queue.Manager,
	ev *events.Manager,
	log zerolog.Logger,
) *ReconcileTask {
	return &ReconcileTask{
		execs:   execs,
		pipes:   pipes,
		users:   users,
		brokers: brokers,
		queue:   q,
		events:  ev,
		log:     log.With().Str("task", "reconcile").Logger(),
	}
}

// FanOut rescues orphaned monitoring rows and enqueues one reconciliation
// job per active user. Called on a schedule.
func (t *ReconcileTask) FanOut(ctx context.Context) {
	rescued, err := t.execs.RescueOrphans(ctx, time.Now().UTC().Add(-reconcileGrace), orphanNudge)
	if err != nil {
		t.log.Error().Err(err).Msg("Orphan rescue failed")
	} else if rescued > 0 {
		t.log.Info().Int64("rescued", rescued).Msg("Orphaned monitors rescheduled")
	}

	userIDs, err := t.users.ListActiveIDs(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("Failed to list active users")
		return
	}
	for _, userID := range userIDs {
		if err := t.queue.Enqueue(&queue.Job{
			Type:     queue.JobTypeReconcileUser,
			Priority: queue.PriorityMedium,
			Payload:  map[string]interface{}{"user_id": userID},
		}); err != nil {
			t.log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue reconciliation")
		}
	}
}

// HandleJob reconciles one user's flagged executions.
func (t *ReconcileTask) HandleJob(ctx context.Context, job *queue.Job) error {
	userID, _ := job.Payload["user_id"].(string)
	if userID == "" {
		return fmt.Errorf("reconcile job %s missing user_id", job.ID)
	}

	flagged, err := t.execs.ListByStatus(ctx, domain.StatusNeedsReconciliation, reconcileBatch)
	if err != nil {
		return err
	}

	summary := events.ReconciliationCompletedData{UserID: userID}
	cutoff := time.Now().UTC().Add(-reconcileGrace)
	for _, exec := range flagged {
		if exec.UserID != userID {
			continue
		}
		if exec.CompletedAt != nil && exec.CompletedAt.After(cutoff) {
			continue
		}
		summary.Checked++
		switch t.reconcile(ctx, exec) {
		case verdictConcluded:
			summary.Concluded++
		case verdictRecovered:
			summary.Recovered++
		default:
			summary.Unresolved++
		}
	}

	if summary.Checked > 0 {
		t.events.EmitTyped("reconcile", &summary)
		t.log.Info().
			Str("user_id", userID).
			Int("checked", summary.Checked).
			Int("concluded", summary.Concluded).
			Int("recovered", summary.Recovered).
			Int("unresolved", summary.Unresolved).
			Msg("Reconciliation pass complete")
	}
	return nil
}

type verdict int

const (
	verdictUnresolved verdict = iota
	verdictConcluded
	verdictRecovered
)

func (t *ReconcileTask) reconcile(ctx context.Context, exec *domain.Execution) verdict {
	te := tradeExecutionOf(exec)
	if te == nil || (te.TradeID == "" && te.OrderID == "") {
		// Nothing was ever submitted; the row can close as cancelled.
		t.finishAs(ctx, exec, domain.StatusCancelled, &domain.TradeOutcome{
			Status:     domain.OutcomeCancelled,
			ExitReason: "no broker order recorded",
		})
		return verdictConcluded
	}

	p, err := t.pipes.GetByID(ctx, exec.PipelineID)
	if err != nil {
		t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Pipeline lookup failed")
		return verdictUnresolved
	}
	brk := t.resolveBroker(p)
	if brk == nil {
		return verdictUnresolved
	}

	details, err := brk.GetTradeDetails(ctx, te.TradeID, te.OrderID)
	if err != nil {
		t.log.Warn().Err(err).Str("execution_id", exec.ID).Msg("Broker check failed")
		return verdictUnresolved
	}

	if details.Found && details.State == "closed" {
		pnl := details.RealizedPL
		outcome := &domain.TradeOutcome{
			Status:     domain.OutcomeExecuted,
			PnL:        &pnl,
			ExitReason: "confirmed closed during reconciliation",
			ExitPrice:  details.ClosePrice,
			EntryPrice: details.OpenPrice,
			ClosedAt:   details.CloseTime,
		}
		t.finishAs(ctx, exec, domain.StatusCompleted, outcome)
		t.events.EmitTyped("reconcile", &events.PositionClosedData{
			ExecutionID: exec.ID,
			Symbol:      exec.Symbol,
			Outcome:     string(domain.OutcomeExecuted),
			PnL:         &pnl,
			ExitReason:  outcome.ExitReason,
		})
		return verdictConcluded
	}

	if details.Found && details.State == "open" {
		t.backToMonitoring(ctx, exec)
		return verdictRecovered
	}

	// Trade unknown to the broker by id; a live position for the symbol
	// still counts as ours.
	position, err := brk.GetPosition(ctx, exec.Symbol)
	if err == nil && position != nil {
		t.backToMonitoring(ctx, exec)
		return verdictRecovered
	}
	return verdictUnresolved
}

// finishAs concludes a flagged execution with a broker-confirmed outcome.
func (t *ReconcileTask) finishAs(ctx context.Context, exec *domain.Execution, status domain.ExecutionStatus, outcome *domain.TradeOutcome) {
	now := time.Now().UTC()
	exec.Status = status
	exec.Phase = domain.PhaseCompleted
	exec.CompletedAt = &now
	exec.NextCheckAt = nil
	exec.ErrorMessage = ""
	if exec.Result == nil {
		exec.Result = &domain.ExecutionResult{}
	}
	exec.Result.TradeOutcome = outcome
	if err := t.execs.UpdateCAS(ctx, exec); err != nil {
		t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to conclude execution")
	}
}

// backToMonitoring revives a flagged execution whose trade turned out to
// still be alive at the broker.
func (t *ReconcileTask) backToMonitoring(ctx context.Context, exec *domain.Execution) {
	now := time.Now().UTC()
	exec.Status = domain.StatusMonitoring
	exec.Phase = domain.PhaseMonitoring
	exec.ErrorMessage = ""
	exec.CompletedAt = nil
	exec.MonitorIntervalMinutes = 5.0
	next := now.Add(exec.MonitorInterval())
	exec.NextCheckAt = &next
	if te := tradeExecutionOf(exec); te != nil {
		te.APIErrorCount = 0
		te.LastAPIError = ""
	}
	if err := t.execs.UpdateCAS(ctx, exec); err != nil {
		t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to revive execution")
		return
	}
	t.log.Info().Str("execution_id", exec.ID).Msg("Trade confirmed alive, back to monitoring")
}

func (t *ReconcileTask) resolveBroker(p *domain.Pipeline) broker.Broker {
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

func tradeExecutionOf(exec *domain.Execution) *domain.TradeExecution {
	if exec.Result == nil {
		return nil
	}
	return exec.Result.TradeExecution
}
