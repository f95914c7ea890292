package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/database"
)

// candleRetention bounds the raw 1m candle table. The continuous
// aggregates keep their data independently of the raw rows.
const candleRetention = 90 * 24 * time.Hour

// MaintenanceJob performs daily database maintenance: statistics refresh
// on the hot tables and pruning of raw candles past retention.
type MaintenanceJob struct {
	db      *database.DB
	candles *database.CandleRepository
	log     zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job.
func NewMaintenanceJob(db *database.DB, candles *database.CandleRepository, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		candles: candles,
		log:     log.With().Str("job", "maintenance").Logger(),
	}
}

// Run executes one maintenance pass.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting database maintenance")
	start := time.Now()

	pruned, err := j.candles.DeleteOlderThan(ctx, time.Now().UTC().Add(-candleRetention))
	if err != nil {
		return fmt.Errorf("failed to prune old candles: %w", err)
	}

	for _, table := range []string{"pipeline_executions", "ohlcv_1m"} {
		if _, err := j.db.Pool().Exec(ctx, "ANALYZE "+table); err != nil {
			j.log.Warn().Err(err).Str("table", table).Msg("ANALYZE failed")
		}
	}

	stats := j.db.GetStats()
	j.log.Info().
		Int64("candles_pruned", pruned).
		Int32("pool_total", stats.TotalConns).
		Int32("pool_idle", stats.IdleConns).
		Dur("duration", time.Since(start)).
		Msg("Database maintenance complete")
	return nil
}
