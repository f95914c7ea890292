// Package dataplane owns market data: provider fetching, candle storage,
// the Redis read-through cache and indicator computation.
package dataplane

import (
	"context"

	"github.com/aristath/tradewinds/internal/domain"
)

// Provider fetches market data from an external vendor.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, ticker string) (*domain.Quote, error)
	// GetCandles returns up to count recent candles, oldest first. Only 1m
	// and daily are fetched from providers; other timeframes are derived.
	GetCandles(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error)
}
