package dataplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/cache"
	"github.com/aristath/tradewinds/internal/domain"
)

// CandleStore is the slice of the candle repository the service writes
// through to.
type CandleStore interface {
	Recent(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error)
	Upsert(ctx context.Context, candles []domain.Candle) (int64, error)
	UpsertDaily(ctx context.Context, candles []domain.Candle) (int64, error)
}

// Service is the read-through market data facade: Redis first, then the
// hypertable, then the provider. Provider results are written back to both.
type Service struct {
	primary  Provider
	fallback Provider
	cache    *cache.Cache
	candles  CandleStore
	workers  int
	log      zerolog.Logger
}

// NewService creates the data plane service. fallback may be nil.
func NewService(primary, fallback Provider, c *cache.Cache, candles CandleStore, workers int, log zerolog.Logger) *Service {
	return &Service{
		primary:  primary,
		fallback: fallback,
		cache:    c,
		candles:  candles,
		workers:  workers,
		log:      log.With().Str("component", "dataplane").Logger(),
	}
}

// GetQuote returns the freshest quote available for the ticker.
func (s *Service) GetQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	if q, err := s.cache.GetQuote(ctx, ticker); err == nil {
		return q, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("quote cache read failed")
	}

	var quote *domain.Quote
	err := s.fetchWithFallback(ctx, func(p Provider) error {
		q, err := p.GetQuote(ctx, ticker)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", ticker, err)
	}

	if err := s.cache.SetQuote(ctx, quote); err != nil {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("quote cache write failed")
	}
	return quote, nil
}

// GetCandles returns count candles for the ticker at the given timeframe,
// oldest first. Derived timeframes missing from both cache and aggregates
// are rebuilt from 1m rows.
func (s *Service) GetCandles(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("invalid timeframe %q", tf)
	}

	if cached, err := s.cache.GetCandles(ctx, ticker, tf); err == nil && len(cached) >= count {
		return cached[len(cached)-count:], nil
	} else if err != nil && !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("candle cache read failed")
	}

	stored, err := s.candles.Recent(ctx, ticker, tf, count)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", ticker).Str("timeframe", string(tf)).
			Msg("candle store read failed")
	}
	if len(stored) >= count {
		s.cacheCandles(ctx, ticker, tf, stored)
		return stored, nil
	}

	fetched, err := s.fetchCandles(ctx, ticker, tf, count)
	if err != nil {
		// Partial stored data beats an error for indicator callers.
		if len(stored) > 0 {
			return stored, nil
		}
		return nil, err
	}
	s.cacheCandles(ctx, ticker, tf, fetched)
	return fetched, nil
}

// fetchCandles pulls from the provider. Timeframes the providers cannot
// serve directly are aggregated from fetched 1m candles.
func (s *Service) fetchCandles(ctx context.Context, ticker string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	fetchTF := tf
	fetchCount := count
	switch tf {
	case domain.Timeframe1m, domain.TimeframeD:
	case domain.TimeframeW, domain.TimeframeM:
		fetchTF = domain.TimeframeD
		fetchCount = count * 31
	default:
		fetchTF = domain.Timeframe1m
		fetchCount = count * int(tf.Duration().Minutes())
	}

	var fetched []domain.Candle
	err := s.fetchWithFallback(ctx, func(p Provider) error {
		candles, err := p.GetCandles(ctx, ticker, fetchTF, fetchCount)
		if err != nil {
			return err
		}
		fetched = candles
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s/%s: %w", ticker, tf, err)
	}

	switch fetchTF {
	case domain.Timeframe1m:
		if _, err := s.candles.Upsert(ctx, fetched); err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("candle upsert failed")
		}
	case domain.TimeframeD:
		if _, err := s.candles.UpsertDaily(ctx, fetched); err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("daily candle upsert failed")
		}
	}
	if fetchTF == tf {
		return fetched, nil
	}
	aggregated := domain.AggregateCandles(fetched, tf)
	if len(aggregated) > count {
		aggregated = aggregated[len(aggregated)-count:]
	}
	return aggregated, nil
}

func (s *Service) cacheCandles(ctx context.Context, ticker string, tf domain.Timeframe, candles []domain.Candle) {
	if len(candles) == 0 {
		return
	}
	if err := s.cache.SetCandles(ctx, ticker, tf, candles); err != nil {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("candle cache write failed")
	}
}

// GetIndicators returns the named indicator series for the ticker,
// computing and caching any that are missing.
func (s *Service) GetIndicators(ctx context.Context, ticker string, tf domain.Timeframe, names []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	var missing []string
	for _, name := range names {
		values, err := s.cache.GetIndicator(ctx, ticker, tf, name)
		if err == nil {
			out[name] = values
			continue
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn().Err(err).Str("ticker", ticker).Str("indicator", name).
				Msg("indicator cache read failed")
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return out, nil
	}

	// SMA200 sets the window; a single fetch feeds every series.
	candles, err := s.GetCandles(ctx, ticker, tf, 250)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for indicators on %s: %w", ticker, err)
	}

	computed := ComputeIndicators(missing, candles, s.workers)
	for name, values := range computed {
		out[name] = values
		if err := s.cache.SetIndicator(ctx, ticker, tf, name, values); err != nil {
			s.log.Warn().Err(err).Str("indicator", name).Msg("indicator cache write failed")
		}
	}
	return out, nil
}

// fetchWithFallback retries the primary on transient failures, then tries
// the fallback provider once.
func (s *Service) fetchWithFallback(ctx context.Context, fetch func(Provider) error) error {
	err := withRetry(ctx, func() error { return fetch(s.primary) })
	if err == nil {
		return nil
	}
	if s.fallback == nil {
		return err
	}
	s.log.Warn().Err(err).
		Str("primary", s.primary.Name()).
		Str("fallback", s.fallback.Name()).
		Msg("primary provider failed, trying fallback")
	if fbErr := fetch(s.fallback); fbErr != nil {
		return fmt.Errorf("primary: %v, fallback: %w", err, fbErr)
	}
	return nil
}
