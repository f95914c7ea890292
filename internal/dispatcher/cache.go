// Package dispatcher consumes signals from the bus, matches them against
// pipeline subscriptions and enqueues execution jobs.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/pipeline"
)

// Entry pairs a pipeline with the resolved ticker set of its scanner.
type Entry struct {
	Pipeline *domain.Pipeline
	Tickers  map[string]bool
}

// PipelineCache keeps the active pipeline set in memory. A failed refresh
// keeps serving the previous snapshot; matching against a slightly stale
// set beats matching against nothing.
type PipelineCache struct {
	repo     *pipeline.Repository
	interval time.Duration
	log      zerolog.Logger

	mu      sync.RWMutex
	entries []Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipelineCache creates the cache with a 30 second refresh.
func NewPipelineCache(repo *pipeline.Repository, log zerolog.Logger) *PipelineCache {
	return &PipelineCache{
		repo:     repo,
		interval: 30 * time.Second,
		log:      log.With().Str("component", "pipeline_cache").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start primes the cache and launches the refresh loop.
func (c *PipelineCache) Start(ctx context.Context) {
	c.Refresh(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Refresh(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the refresh loop.
func (c *PipelineCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Refresh reloads active pipelines and their scanner tickers.
func (c *PipelineCache) Refresh(ctx context.Context) {
	pipelines, err := c.repo.ListActive(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("pipeline refresh failed, serving stale set")
		return
	}

	entries := make([]Entry, 0, len(pipelines))
	for _, p := range pipelines {
		tickers := map[string]bool{}
		if p.ScannerID != "" {
			scanner, err := c.repo.GetScanner(ctx, p.ScannerID)
			if err != nil {
				c.log.Warn().Err(err).
					Str("pipeline_id", p.ID).
					Str("scanner_id", p.ScannerID).
					Msg("scanner load failed, pipeline matches nothing this cycle")
				continue
			}
			for _, t := range scanner.Tickers {
				tickers[t] = true
			}
		}
		entries = append(entries, Entry{Pipeline: p, Tickers: tickers})
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.log.Debug().Int("pipelines", len(entries)).Msg("pipeline cache refreshed")
}

// Snapshot returns the current entries.
func (c *PipelineCache) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries
}
