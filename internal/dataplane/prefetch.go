package dataplane

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/cache"
	"github.com/aristath/tradewinds/internal/config"
	"github.com/aristath/tradewinds/internal/database"
	"github.com/aristath/tradewinds/internal/domain"
)

// UniverseSource reports which tickers pipelines currently care about. Hot
// tickers belong to active signal pipelines and get the full prefetch
// cadence; warm tickers only get quotes.
type UniverseSource interface {
	ActiveTickers(ctx context.Context) (hot []string, warm []string, err error)
}

// Prefetcher keeps the hypertable and cache warm for the active universe.
type Prefetcher struct {
	service  *Service
	cache    *cache.Cache
	candles  *database.CandleRepository
	universe UniverseSource
	cfg      config.PrefetchConfig
	log      zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPrefetcher creates the prefetch loops.
func NewPrefetcher(service *Service, c *cache.Cache, candles *database.CandleRepository, universe UniverseSource, cfg config.PrefetchConfig, log zerolog.Logger) *Prefetcher {
	return &Prefetcher{
		service:  service,
		cache:    c,
		candles:  candles,
		universe: universe,
		cfg:      cfg,
		log:      log.With().Str("component", "prefetch").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the candle and universe refresh loops.
func (p *Prefetcher) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.candleLoop(ctx)
	go p.universeLoop(ctx)
	p.log.Info().
		Dur("interval", p.cfg.Interval).
		Int("candle_depth", p.cfg.CandleDepth).
		Msg("prefetcher started")
}

// Stop signals the loops and waits for them to drain.
func (p *Prefetcher) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.log.Info().Msg("prefetcher stopped")
}

func (p *Prefetcher) candleLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prefetcher) universeLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.UniverseInterval)
	defer ticker.Stop()

	p.refreshUniverse(ctx)
	for {
		select {
		case <-ticker.C:
			p.refreshUniverse(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce refreshes 1m candles and quotes for the hot set. Per-ticker
// failures are logged and skipped so one dead symbol cannot starve the
// rest of the universe.
func (p *Prefetcher) RunOnce(ctx context.Context) {
	hot, err := p.cache.HotTickers(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to load hot tickers")
		return
	}
	var fetched int64
	for _, ticker := range hot {
		candles, err := p.service.fetchCandles(ctx, ticker, domain.Timeframe1m, p.cfg.CandleDepth)
		if err != nil {
			p.log.Warn().Err(err).Str("ticker", ticker).Msg("candle prefetch failed")
			continue
		}
		fetched += int64(len(candles))
		p.service.cacheCandles(ctx, ticker, domain.Timeframe1m, candles)

		if _, err := p.service.GetQuote(ctx, ticker); err != nil {
			p.log.Warn().Err(err).Str("ticker", ticker).Msg("quote prefetch failed")
		}
	}
	p.log.Debug().
		Int("tickers", len(hot)).
		Int64("candles", fetched).
		Msg("prefetch pass complete")
}

func (p *Prefetcher) refreshUniverse(ctx context.Context) {
	hot, warm, err := p.universe.ActiveTickers(ctx)
	if err != nil {
		// Keep serving the previous universe; stale beats empty.
		p.log.Error().Err(err).Msg("universe refresh failed")
		return
	}
	if err := p.cache.ReplaceUniverse(ctx, hot, warm); err != nil {
		p.log.Error().Err(err).Msg("failed to store ticker universe")
		return
	}
	p.log.Debug().Int("hot", len(hot)).Int("warm", len(warm)).Msg("universe refreshed")
}

// BackfillDaily fetches the deep daily history for every hot and warm
// ticker. Housekeeping schedules it after the trading day closes.
func (p *Prefetcher) BackfillDaily(ctx context.Context) {
	hot, err := p.cache.HotTickers(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to load hot tickers for backfill")
		return
	}
	warm, err := p.cache.WarmTickers(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to load warm tickers for backfill")
		return
	}

	for _, ticker := range append(hot, warm...) {
		candles, err := p.service.fetchCandles(ctx, ticker, domain.TimeframeD, p.cfg.BackfillDepth)
		if err != nil {
			p.log.Warn().Err(err).Str("ticker", ticker).Msg("daily backfill failed")
			continue
		}
		p.service.cacheCandles(ctx, ticker, domain.TimeframeD, candles)
	}
	p.log.Info().Int("tickers", len(hot)+len(warm)).Msg("daily backfill complete")
}
