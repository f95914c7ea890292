// Package pipeline persists pipelines, scanners, users and executions.
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

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repository reads and writes pipeline and scanner rows.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a pipeline repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "pipelines").Logger(),
	}
}

const pipelineColumns = `id, user_id, name, trigger_mode, nodes, scanner_id,
	subscriptions, interval_minutes, require_approval, notify_events,
	broker_type, account_id, account_type, is_active, created_at, updated_at`

// GetByID returns one pipeline.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id)
	p, err := scanPipeline(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every active pipeline.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.Pipeline, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pipelines: %w", err)
	}
	defer rows.Close()

	var out []*domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListScheduledDue returns active periodic pipelines whose interval has
// elapsed since the last trigger.
func (r *Repository) ListScheduledDue(ctx context.Context, now time.Time) ([]*domain.Pipeline, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines
		 WHERE is_active AND trigger_mode = 'periodic' AND interval_minutes > 0
		   AND (last_triggered_at IS NULL
		        OR last_triggered_at + (interval_minutes || ' minutes')::interval <= $1)`,
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due pipelines: %w", err)
	}
	defer rows.Close()

	var out []*domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkTriggered records a trigger time for periodic scheduling.
func (r *Repository) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE pipelines SET last_triggered_at = $2, updated_at = now() WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark pipeline %s triggered: %w", id, err)
	}
	return nil
}

// GetScanner returns one scanner.
func (r *Repository) GetScanner(ctx context.Context, id string) (*domain.Scanner, error) {
	var s domain.Scanner
	var tickers []byte
	err := r.db.Pool().QueryRow(ctx,
		`SELECT id, user_id, name, tickers, created_at FROM scanners WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.Name, &tickers, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scanner %s: %w", id, err)
	}
	if err := json.Unmarshal(tickers, &s.Tickers); err != nil {
		return nil, fmt.Errorf("failed to decode scanner tickers: %w", err)
	}
	return &s, nil
}

// ActiveTickers partitions scanner tickers into hot (attached to an active
// pipeline) and warm (every other active scanner ticker). Satisfies the
// data plane's UniverseSource.
func (r *Repository) ActiveTickers(ctx context.Context) ([]string, []string, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT s.tickers, bool_or(p.is_active) AS hot
		 FROM scanners s
		 LEFT JOIN pipelines p ON p.scanner_id = s.id
		 WHERE s.is_active
		 GROUP BY s.id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query active tickers: %w", err)
	}
	defer rows.Close()

	hotSet := map[string]bool{}
	warmSet := map[string]bool{}
	for rows.Next() {
		var raw []byte
		var hot *bool
		if err := rows.Scan(&raw, &hot); err != nil {
			return nil, nil, fmt.Errorf("failed to scan ticker row: %w", err)
		}
		var tickers []string
		if err := json.Unmarshal(raw, &tickers); err != nil {
			continue
		}
		for _, t := range tickers {
			if hot != nil && *hot {
				hotSet[t] = true
			} else {
				warmSet[t] = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var hotList, warmList []string
	for t := range hotSet {
		hotList = append(hotList, t)
	}
	for t := range warmSet {
		if !hotSet[t] {
			warmList = append(warmList, t)
		}
	}
	return hotList, warmList, nil
}

func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var p domain.Pipeline
	var nodes, subs, notify []byte
	var scannerID *string
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.TriggerMode, &nodes, &scannerID,
		&subs, &p.IntervalMinutes, &p.RequireApproval, &notify,
		&p.BrokerType, &p.AccountID, &p.AccountType, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scannerID != nil {
		p.ScannerID = *scannerID
	}
	if err := json.Unmarshal(nodes, &p.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline nodes: %w", err)
	}
	if err := json.Unmarshal(subs, &p.Subs); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline subscriptions: %w", err)
	}
	if err := json.Unmarshal(notify, &p.NotifyEvents); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline notify events: %w", err)
	}
	return &p, nil
}
