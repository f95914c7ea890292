package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

// aggregateViews maps a timeframe to its continuous aggregate. Weekly and
// monthly are rolled up from daily rows at query time.
var aggregateViews = map[domain.Timeframe]string{
	domain.Timeframe5m:  "ohlcv_5m",
	domain.Timeframe15m: "ohlcv_15m",
	domain.Timeframe1h:  "ohlcv_1h",
	domain.Timeframe4h:  "ohlcv_4h",
	domain.TimeframeD:   "ohlcv_1d",
}

// CandleRepository reads and writes OHLCV rows.
type CandleRepository struct {
	db  *DB
	log zerolog.Logger
}

// NewCandleRepository creates a candle repository.
func NewCandleRepository(db *DB, log zerolog.Logger) *CandleRepository {
	return &CandleRepository{
		db:  db,
		log: log.With().Str("repo", "candles").Logger(),
	}
}

// Upsert inserts 1m candles, ignoring rows that already exist. Provider
// fetches overlap on purpose so conflicts are the common case.
func (r *CandleRepository) Upsert(ctx context.Context, candles []domain.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO ohlcv_1m (ticker, ts, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (ticker, ts) DO NOTHING`,
			c.Ticker, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range candles {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert candles: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// UpsertDaily writes adjusted end-of-day rows. Adjusted values shift when
// splits and dividends land, so conflicts overwrite instead of skipping.
func (r *CandleRepository) UpsertDaily(ctx context.Context, candles []domain.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO ohlcv_eod (ticker, ts, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (ticker, ts) DO UPDATE
			 SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			     close = EXCLUDED.close, volume = EXCLUDED.volume`,
			c.Ticker, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	var written int64
	for range candles {
		tag, err := results.Exec()
		if err != nil {
			return written, fmt.Errorf("failed to upsert daily candles: %w", err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// mergedDailySQL unions the continuous aggregate (today's forming bar and
// recent sessions) with the deep EOD history, preferring the aggregate
// where the two overlap.
const mergedDailySQL = `SELECT bucket AS ts, open, high, low, close, volume
	 FROM ohlcv_1d WHERE ticker = $1
	 UNION ALL
	 SELECT e.ts, e.open, e.high, e.low, e.close, e.volume
	 FROM ohlcv_eod e WHERE e.ticker = $1
	 AND NOT EXISTS (
		 SELECT 1 FROM ohlcv_1d a WHERE a.ticker = $1 AND a.bucket = e.ts
	 )`

// Recent returns the most recent count candles for the ticker at the given
// timeframe, oldest first.
func (r *CandleRepository) Recent(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	var query string
	switch {
	case tf == domain.Timeframe1m:
		query = `SELECT ts, open, high, low, close, volume
			 FROM ohlcv_1m WHERE ticker = $1
			 ORDER BY ts DESC LIMIT $2`
	case tf == domain.TimeframeD:
		query = `SELECT ts, open, high, low, close, volume
			 FROM (` + mergedDailySQL + `) daily
			 ORDER BY ts DESC LIMIT $2`
	case tf == domain.TimeframeW || tf == domain.TimeframeM:
		return r.recentRollup(ctx, ticker, tf, count)
	default:
		view, ok := aggregateViews[tf]
		if !ok {
			return nil, fmt.Errorf("no candle source for timeframe %s", tf)
		}
		query = fmt.Sprintf(`SELECT bucket, open, high, low, close, volume
			 FROM %s WHERE ticker = $1
			 ORDER BY bucket DESC LIMIT $2`, view)
	}

	rows, err := r.db.Pool().Query(ctx, query, ticker, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s/%s: %w", ticker, tf, err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows, ticker, tf)
	if err != nil {
		return nil, err
	}
	reverse(candles)
	return candles, nil
}

// recentRollup aggregates daily buckets into weekly or monthly candles.
func (r *CandleRepository) recentRollup(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	trunc := "week"
	if tf == domain.TimeframeM {
		trunc = "month"
	}
	query := fmt.Sprintf(`WITH daily AS (`+mergedDailySQL+`)
		 SELECT date_trunc('%s', ts) AS period,
			 first(open, ts) AS open,
			 max(high) AS high,
			 min(low) AS low,
			 last(close, ts) AS close,
			 sum(volume) AS volume
		 FROM daily
		 GROUP BY period ORDER BY period DESC LIMIT $2`, trunc)

	rows, err := r.db.Pool().Query(ctx, query, ticker, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s rollup for %s: %w", tf, ticker, err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows, ticker, tf)
	if err != nil {
		return nil, err
	}
	reverse(candles)
	return candles, nil
}

// Range returns candles between from and to inclusive, oldest first.
func (r *CandleRepository) Range(ctx context.Context, ticker string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	var query string
	if tf == domain.Timeframe1m {
		query = `SELECT ts, open, high, low, close, volume
			 FROM ohlcv_1m WHERE ticker = $1 AND ts >= $2 AND ts <= $3
			 ORDER BY ts ASC`
	} else {
		view, ok := aggregateViews[tf]
		if !ok {
			return nil, fmt.Errorf("no candle source for timeframe %s", tf)
		}
		query = fmt.Sprintf(`SELECT bucket, open, high, low, close, volume
			 FROM %s WHERE ticker = $1 AND bucket >= $2 AND bucket <= $3
			 ORDER BY bucket ASC`, view)
	}

	rows, err := r.db.Pool().Query(ctx, query, ticker, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range for %s/%s: %w", ticker, tf, err)
	}
	defer rows.Close()

	return scanCandles(rows, ticker, tf)
}

// LatestTimestamp returns the newest 1m candle timestamp for the ticker, or
// the zero time when none exist.
func (r *CandleRepository) LatestTimestamp(ctx context.Context, ticker string) (time.Time, error) {
	var ts *time.Time
	err := r.db.Pool().QueryRow(ctx,
		`SELECT max(ts) FROM ohlcv_1m WHERE ticker = $1`, ticker).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest candle for %s: %w", ticker, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// DeleteOlderThan removes 1m rows older than the cutoff. Aggregates keep
// their own retention via Timescale policies.
func (r *CandleRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM ohlcv_1m WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old candles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCandles(rows pgx.Rows, ticker string, tf domain.Timeframe) ([]domain.Candle, error) {
	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Ticker = ticker
		c.Timeframe = tf
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candle rows: %w", err)
	}
	return out, nil
}

func reverse(candles []domain.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}
