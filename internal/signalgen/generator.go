package signalgen

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/cache"
	"github.com/aristath/tradewinds/internal/dataplane"
	"github.com/aristath/tradewinds/internal/domain"
)

// Publisher is the slice of the bus the generator needs.
type Publisher interface {
	Publish(signal *domain.Signal) error
}

// Generator runs each detector on its own cadence over the hot universe
// and publishes one signal per detector pass that found anything.
type Generator struct {
	detectors []Detector
	data      *dataplane.Service
	cache     *cache.Cache
	publisher Publisher
	log       zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewGenerator creates the generator.
func NewGenerator(detectors []Detector, data *dataplane.Service, c *cache.Cache, publisher Publisher, log zerolog.Logger) *Generator {
	return &Generator{
		detectors: detectors,
		data:      data,
		cache:     c,
		publisher: publisher,
		log:       log.With().Str("component", "signalgen").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches one scan loop per detector.
func (g *Generator) Start(ctx context.Context) {
	for _, d := range g.detectors {
		g.wg.Add(1)
		go g.runDetector(ctx, d)
	}
	g.log.Info().Int("detectors", len(g.detectors)).Msg("signal generator started")
}

// Stop signals every loop and waits for them.
func (g *Generator) Stop() {
	close(g.stopCh)
	g.wg.Wait()
	g.log.Info().Msg("signal generator stopped")
}

func (g *Generator) runDetector(ctx context.Context, d Detector) {
	defer g.wg.Done()
	ticker := time.NewTicker(d.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.scan(ctx, d)
		case <-g.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// scan runs one detector across the hot universe. A lost or failed publish
// is logged and dropped; the next pass regenerates anything still true.
func (g *Generator) scan(ctx context.Context, d Detector) {
	tickers, err := g.cache.HotTickers(ctx)
	if err != nil {
		g.log.Error().Err(err).Str("detector", d.Name()).Msg("failed to load hot tickers")
		return
	}

	var entries []domain.SignalEntry
	for _, ticker := range tickers {
		candles, err := g.data.GetCandles(ctx, ticker, d.Timeframe(), d.MinCandles())
		if err != nil {
			g.log.Warn().Err(err).
				Str("detector", d.Name()).
				Str("ticker", ticker).
				Msg("candle load failed, ticker skipped")
			continue
		}
		if entry := d.Detect(ticker, candles); entry != nil {
			entries = append(entries, *entry)
		}
	}
	if len(entries) == 0 {
		return
	}

	signal := &domain.Signal{
		SignalID:   uuid.NewString(),
		SignalType: d.SignalType(),
		Source:     d.Name(),
		Timestamp:  time.Now().UTC(),
		Tickers:    entries,
	}
	if err := g.publisher.Publish(signal); err != nil {
		g.log.Error().Err(err).
			Str("detector", d.Name()).
			Str("signal_id", signal.SignalID).
			Msg("signal publish failed, dropped")
		return
	}
	g.log.Info().
		Str("detector", d.Name()).
		Str("signal_id", signal.SignalID).
		Int("tickers", len(entries)).
		Msg("signal published")
}
