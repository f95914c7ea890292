// Package cache provides the Redis read-through cache for quotes, candles
// and indicator values, plus the hot/warm ticker universe sets.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tradewinds/internal/domain"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

const (
	quoteTTL     = 30 * time.Second
	indicatorTTL = 5 * time.Minute

	hotSetKey  = "tickers:hot"
	warmSetKey = "tickers:warm"
)

// Cache wraps the Redis client with typed accessors.
type Cache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// Config holds cache configuration
type Config struct {
	Addr string
	DB   int
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Cache{
		rdb: rdb,
		log: log.With().Str("component", "cache").Logger(),
	}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity, used by the health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func quoteKey(ticker string) string { return "quote:" + ticker }

func candleKey(ticker string, tf domain.Timeframe) string {
	return "candles:" + string(tf) + ":" + ticker
}

func indicatorKey(ticker string, tf domain.Timeframe, name string) string {
	return "indicators:" + string(tf) + ":" + ticker + ":" + name
}

// SetQuote stores a quote with a short TTL.
func (c *Cache) SetQuote(ctx context.Context, q *domain.Quote) error {
	data, err := msgpack.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}
	return c.rdb.Set(ctx, quoteKey(q.Symbol), data, quoteTTL).Err()
}

// GetQuote returns ErrMiss when no fresh quote exists.
func (c *Cache) GetQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	data, err := c.rdb.Get(ctx, quoteKey(ticker)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", ticker, err)
	}
	var q domain.Quote
	if err := msgpack.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to decode quote for %s: %w", ticker, err)
	}
	return &q, nil
}

// SetCandles stores a candle window with a timeframe-scaled TTL.
func (c *Cache) SetCandles(ctx context.Context, ticker string, tf domain.Timeframe, candles []domain.Candle) error {
	data, err := msgpack.Marshal(candles)
	if err != nil {
		return fmt.Errorf("failed to encode candles: %w", err)
	}
	return c.rdb.Set(ctx, candleKey(ticker, tf), data, tf.CacheTTL()).Err()
}

// GetCandles returns ErrMiss when the window is absent or expired.
func (c *Cache) GetCandles(ctx context.Context, ticker string, tf domain.Timeframe) ([]domain.Candle, error) {
	data, err := c.rdb.Get(ctx, candleKey(ticker, tf)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s/%s: %w", ticker, tf, err)
	}
	var candles []domain.Candle
	if err := msgpack.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("failed to decode candles for %s/%s: %w", ticker, tf, err)
	}
	return candles, nil
}

// SetIndicator stores a computed indicator series for five minutes.
func (c *Cache) SetIndicator(ctx context.Context, ticker string, tf domain.Timeframe, name string, values []float64) error {
	data, err := msgpack.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode indicator: %w", err)
	}
	return c.rdb.Set(ctx, indicatorKey(ticker, tf, name), data, indicatorTTL).Err()
}

// GetIndicator returns ErrMiss when the series is absent or expired.
func (c *Cache) GetIndicator(ctx context.Context, ticker string, tf domain.Timeframe, name string) ([]float64, error) {
	data, err := c.rdb.Get(ctx, indicatorKey(ticker, tf, name)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator %s for %s/%s: %w", name, ticker, tf, err)
	}
	var values []float64
	if err := msgpack.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode indicator %s: %w", name, err)
	}
	return values, nil
}

// ReplaceUniverse atomically swaps the hot and warm ticker sets.
func (c *Cache) ReplaceUniverse(ctx context.Context, hot, warm []string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, hotSetKey, warmSetKey)
	if len(hot) > 0 {
		pipe.SAdd(ctx, hotSetKey, toAny(hot)...)
	}
	if len(warm) > 0 {
		pipe.SAdd(ctx, warmSetKey, toAny(warm)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace ticker universe: %w", err)
	}
	return nil
}

// HotTickers returns the current hot set.
func (c *Cache) HotTickers(ctx context.Context) ([]string, error) {
	tickers, err := c.rdb.SMembers(ctx, hotSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get hot tickers: %w", err)
	}
	return tickers, nil
}

// WarmTickers returns the current warm set.
func (c *Cache) WarmTickers(ctx context.Context) ([]string, error) {
	tickers, err := c.rdb.SMembers(ctx, warmSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get warm tickers: %w", err)
	}
	return tickers, nil
}

// MarkSeen sets a suppression key if absent, returning true on first sight.
// The dispatcher uses it to drop duplicate signal deliveries.
func (c *Cache) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, "seen:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s seen: %w", key, err)
	}
	return ok, nil
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
