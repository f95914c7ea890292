// Package domain holds the core types shared across the trading platform:
// candles, quotes, signals, pipeline configuration, executions and the
// pipeline state that flows through the agent chain.
package domain

import "time"

// Timeframe identifies a candle aggregation interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	TimeframeD   Timeframe = "D"
	TimeframeW   Timeframe = "W"
	TimeframeM   Timeframe = "M"
)

// AllTimeframes lists the supported timeframes in ascending order.
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h,
	Timeframe4h, TimeframeD, TimeframeW, TimeframeM,
}

// AggregateTimeframes are the timeframes materialized by continuous
// aggregates over the raw 1-minute hypertable.
var AggregateTimeframes = []Timeframe{
	Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, TimeframeD,
}

// Duration returns the bucket width of the timeframe. Weekly and monthly
// buckets are approximated; they are only used for cache TTL math.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case TimeframeD:
		return 24 * time.Hour
	case TimeframeW:
		return 7 * 24 * time.Hour
	case TimeframeM:
		return 30 * 24 * time.Hour
	}
	return time.Minute
}

// CacheTTL returns how long cached candle arrays for this timeframe stay
// fresh in the KV store. Short timeframes expire quickly, daily candles
// survive for hours.
func (tf Timeframe) CacheTTL() time.Duration {
	switch tf {
	case Timeframe1m:
		return 60 * time.Second
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 2 * time.Hour
	default:
		return 4 * time.Hour
	}
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	for _, t := range AllTimeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Truncate aligns t down to the start of the bucket this timeframe defines.
// Daily buckets align to midnight UTC.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	switch tf {
	case TimeframeD:
		return t.UTC().Truncate(24 * time.Hour)
	case TimeframeW:
		t = t.UTC().Truncate(24 * time.Hour)
		for t.Weekday() != time.Monday {
			t = t.AddDate(0, 0, -1)
		}
		return t
	case TimeframeM:
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.UTC().Truncate(tf.Duration())
	}
}
