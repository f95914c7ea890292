package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/database"
	"github.com/aristath/tradewinds/internal/domain"
)

// UserRepository reads users and manages their spend budgets.
type UserRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *database.DB, log zerolog.Logger) *UserRepository {
	return &UserRepository{
		db:  db,
		log: log.With().Str("repo", "users").Logger(),
	}
}

// ListActiveIDs returns every active user id, for reconciliation fan-out.
func (r *UserRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id FROM users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetBudget returns the user's budget, or nil when none is configured.
func (r *UserRepository) GetBudget(ctx context.Context, userID string) (*domain.UserBudget, error) {
	var b domain.UserBudget
	err := r.db.Pool().QueryRow(ctx,
		`SELECT user_id, daily_limit, monthly_limit, daily_spent, monthly_spent, daily_reset_at
		 FROM user_budgets WHERE user_id = $1`, userID).
		Scan(&b.UserID, &b.DailyLimit, &b.MonthlyLimit, &b.DailySpent, &b.MonthlySpent, &b.DailyResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget for %s: %w", userID, err)
	}
	return &b, nil
}

// AddSpend accumulates cost against both budget counters.
func (r *UserRepository) AddSpend(ctx context.Context, userID string, amount float64) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE user_budgets
		 SET daily_spent = daily_spent + $2, monthly_spent = monthly_spent + $2
		 WHERE user_id = $1`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to add spend for %s: %w", userID, err)
	}
	return nil
}

// ResetDailyBudgets zeroes daily counters not reset in the last 24 hours.
// On the first of the month the monthly counter resets too.
func (r *UserRepository) ResetDailyBudgets(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE user_budgets
		 SET daily_spent = 0,
		     monthly_spent = CASE WHEN extract(day from $1::timestamptz) = 1 THEN 0 ELSE monthly_spent END,
		     daily_reset_at = $1
		 WHERE daily_reset_at <= $1::timestamptz - interval '24 hours'`,
		now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily budgets: %w", err)
	}
	return tag.RowsAffected(), nil
}
