package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/database"
	"github.com/aristath/tradewinds/internal/domain"
)

// ErrVersionConflict is returned when a compare-and-set update finds the row
// changed underneath it.
var ErrVersionConflict = errors.New("execution version conflict")

// ExecutionRepository persists execution rows. Every update is a
// compare-and-set on the version column.
type ExecutionRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewExecutionRepository creates an execution repository.
func NewExecutionRepository(db *database.DB, log zerolog.Logger) *ExecutionRepository {
	return &ExecutionRepository{
		db:  db,
		log: log.With().Str("repo", "executions").Logger(),
	}
}

const executionColumns = `id, pipeline_id, user_id, status, phase, mode, symbol,
	signal, agent_states, result, logs, reports, cost, cost_breakdown, error,
	snapshot, version, monitor_interval_minutes, next_check_at,
	started_at, completed_at, created_at`

// Create inserts a new execution at version 1.
func (r *ExecutionRepository) Create(ctx context.Context, e *domain.Execution) error {
	e.Version = 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	signal, agentStates, result, logs, reports, breakdown, err := encodeExecution(e)
	if err != nil {
		return err
	}
	_, err = r.db.Pool().Exec(ctx,
		`INSERT INTO pipeline_executions
		 (id, pipeline_id, user_id, status, phase, mode, symbol, signal,
		  agent_states, result, logs, reports, cost, cost_breakdown, error,
		  snapshot, version, monitor_interval_minutes, next_check_at,
		  started_at, completed_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,now())`,
		e.ID, e.PipelineID, e.UserID, e.Status, e.Phase, e.Mode, e.Symbol, signal,
		agentStates, result, logs, reports, e.Cost, breakdown, e.ErrorMessage,
		e.Snapshot, e.Version, e.MonitorIntervalMinutes, e.NextCheckAt,
		e.StartedAt, e.CompletedAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", e.ID, err)
	}
	return nil
}

// UpdateCAS writes the row if and only if the stored version still matches
// e.Version, then bumps e.Version. Callers reload on ErrVersionConflict.
func (r *ExecutionRepository) UpdateCAS(ctx context.Context, e *domain.Execution) error {
	signal, agentStates, result, logs, reports, breakdown, err := encodeExecution(e)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE pipeline_executions SET
		   status = $2, phase = $3, signal = $4, agent_states = $5, result = $6,
		   logs = $7, reports = $8, cost = $9, cost_breakdown = $10, error = $11,
		   snapshot = $12, monitor_interval_minutes = $13, next_check_at = $14,
		   started_at = $15, completed_at = $16, version = version + 1,
		   updated_at = now()
		 WHERE id = $1 AND version = $17`,
		e.ID, e.Status, e.Phase, signal, agentStates, result,
		logs, reports, e.Cost, breakdown, e.ErrorMessage,
		e.Snapshot, e.MonitorIntervalMinutes, e.NextCheckAt,
		e.StartedAt, e.CompletedAt, e.Version)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	e.Version++
	return nil
}

// GetByID returns one execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+executionColumns+` FROM pipeline_executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return e, nil
}

// CountActive counts executions in an active status for the pipeline and
// symbol. The preflight guard refuses to start a second one.
func (r *ExecutionRepository) CountActive(ctx context.Context, pipelineID, symbol string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM pipeline_executions
		 WHERE pipeline_id = $1 AND symbol = $2 AND status = ANY($3)`,
		pipelineID, symbol, statusStrings(domain.ActiveStatuses)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active executions: %w", err)
	}
	return count, nil
}

// HasActiveTrade reports whether the user already has a live trade on the
// symbol in any pipeline.
func (r *ExecutionRepository) HasActiveTrade(ctx context.Context, userID, symbol string) (bool, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM pipeline_executions
		 WHERE user_id = $1 AND symbol = $2 AND status = ANY($3)`,
		userID, symbol, statusStrings(domain.TradeActiveStatuses)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active trades: %w", err)
	}
	return count > 0, nil
}

// ListDueMonitors returns monitoring executions whose next check time has
// passed, oldest first.
func (r *ExecutionRepository) ListDueMonitors(ctx context.Context, now time.Time, limit int) ([]*domain.Execution, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+executionColumns+` FROM pipeline_executions
		 WHERE status = ANY($1) AND next_check_at IS NOT NULL AND next_check_at <= $2
		 ORDER BY next_check_at ASC LIMIT $3`,
		statusStrings(domain.TradeActiveStatuses), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due monitors: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ListActiveForUser returns the user's executions in trade-active states,
// for reconciliation.
func (r *ExecutionRepository) ListActiveForUser(ctx context.Context, userID string) ([]*domain.Execution, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+executionColumns+` FROM pipeline_executions
		 WHERE user_id = $1 AND status = ANY($2)
		 ORDER BY created_at ASC`,
		userID, statusStrings(domain.TradeActiveStatuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list active executions for user %s: %w", userID, err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ListByStatus returns executions in the given status, oldest first.
func (r *ExecutionRepository) ListByStatus(ctx context.Context, status domain.ExecutionStatus, limit int) ([]*domain.Execution, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+executionColumns+` FROM pipeline_executions
		 WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions by status: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// RescueOrphans bumps next_check_at for monitored executions whose checks
// stopped arriving, so the monitor loop picks them up again shortly. Rows
// in the communication-error state and rows whose schedule was nulled by a
// crashed worker are rescued too.
func (r *ExecutionRepository) RescueOrphans(ctx context.Context, olderThan time.Time, nudge time.Duration) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE pipeline_executions
		 SET next_check_at = now() + $2::interval, updated_at = now()
		 WHERE status IN ('MONITORING', 'COMMUNICATION_ERROR')
		   AND (next_check_at IS NULL OR next_check_at < $1)`,
		olderThan.UTC(), fmt.Sprintf("%d seconds", int(nudge.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to rescue orphan monitors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailStaleRunning marks PENDING and RUNNING executions untouched since the
// cutoff as FAILED. Catches workers that died mid-run without committing,
// and queued rows that never reached a worker. Both count against the
// per-(pipeline, symbol) active slot, so leaving them would block the slot
// forever.
func (r *ExecutionRepository) FailStaleRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE pipeline_executions
		 SET status = 'FAILED', phase = 'completed',
		     error = 'execution stalled and was cleaned up',
		     completed_at = now(), version = version + 1, updated_at = now()
		 WHERE status IN ('PENDING', 'RUNNING') AND updated_at < $1`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean stale executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteTerminalOlderThan removes finished rows past the retention window.
func (r *ExecutionRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM pipeline_executions
		 WHERE status = ANY($1) AND created_at < $2`,
		[]string{"COMPLETED", "FAILED", "CANCELLED", "NEEDS_RECONCILIATION"},
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListTerminalOlderThan returns finished rows past the cutoff, for archiving
// before deletion.
func (r *ExecutionRepository) ListTerminalOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Execution, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+executionColumns+` FROM pipeline_executions
		 WHERE status = ANY($1) AND created_at < $2
		 ORDER BY created_at ASC LIMIT $3`,
		[]string{"COMPLETED", "FAILED", "CANCELLED", "NEEDS_RECONCILIATION"},
		cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for archive: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func statusStrings(statuses []domain.ExecutionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func collectExecutions(rows pgx.Rows) ([]*domain.Execution, error) {
	var out []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeExecution(e *domain.Execution) (signal, agentStates, result, logs, reports, breakdown []byte, err error) {
	if e.Signal != nil {
		if signal, err = json.Marshal(e.Signal); err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to encode signal: %w", err)
		}
	}
	if agentStates, err = json.Marshal(orEmptySlice(e.AgentStates)); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to encode agent states: %w", err)
	}
	if e.Result != nil {
		if result, err = json.Marshal(e.Result); err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to encode result: %w", err)
		}
	}
	if logs, err = json.Marshal(orEmptyStrings(e.Logs)); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to encode logs: %w", err)
	}
	if reports, err = json.Marshal(orEmptyReports(e.Reports)); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to encode reports: %w", err)
	}
	cb := e.CostBreakdown
	if cb == nil {
		cb = map[string]float64{}
	}
	if breakdown, err = json.Marshal(cb); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("failed to encode cost breakdown: %w", err)
	}
	return signal, agentStates, result, logs, reports, breakdown, nil
}

func orEmptySlice(s []domain.AgentState) []domain.AgentState {
	if s == nil {
		return []domain.AgentState{}
	}
	return s
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyReports(s []domain.AgentReport) []domain.AgentReport {
	if s == nil {
		return []domain.AgentReport{}
	}
	return s
}

func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	var signal, agentStates, result, logs, reports, breakdown []byte
	err := row.Scan(&e.ID, &e.PipelineID, &e.UserID, &e.Status, &e.Phase, &e.Mode,
		&e.Symbol, &signal, &agentStates, &result, &logs, &reports, &e.Cost,
		&breakdown, &e.ErrorMessage, &e.Snapshot, &e.Version,
		&e.MonitorIntervalMinutes, &e.NextCheckAt,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(signal) > 0 {
		if err := json.Unmarshal(signal, &e.Signal); err != nil {
			return nil, fmt.Errorf("failed to decode signal: %w", err)
		}
	}
	if len(agentStates) > 0 {
		if err := json.Unmarshal(agentStates, &e.AgentStates); err != nil {
			return nil, fmt.Errorf("failed to decode agent states: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &e.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &e.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode logs: %w", err)
		}
	}
	if len(reports) > 0 {
		if err := json.Unmarshal(reports, &e.Reports); err != nil {
			return nil, fmt.Errorf("failed to decode reports: %w", err)
		}
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &e.CostBreakdown); err != nil {
			return nil, fmt.Errorf("failed to decode cost breakdown: %w", err)
		}
	}
	return &e, nil
}
