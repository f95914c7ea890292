package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/queue"
)

const (
	batchSize    = 20
	batchWindow  = 500 * time.Millisecond
	dedupeWindow = 10 * time.Minute
)

// Deduper answers whether a dispatch key was already seen inside a window.
// Implemented by the Redis cache.
type Deduper interface {
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Dispatcher batches incoming signals and fans them out to matching
// pipelines as execution jobs.
type Dispatcher struct {
	pipelines *PipelineCache
	cache     Deduper
	queue     *queue.Manager
	log       zerolog.Logger

	mu      sync.Mutex
	pending []pendingSignal
	timer   *time.Timer
}

// pendingSignal pairs a buffered signal with its offset ack, invoked only
// after the batch it belongs to has been flushed to the job queue.
type pendingSignal struct {
	signal *domain.Signal
	ack    func()
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(pipelines *PipelineCache, c Deduper, q *queue.Manager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		pipelines: pipelines,
		cache:     c,
		queue:     q,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// HandleSignal is the bus consumer callback. Signals accumulate until the
// batch fills or its window closes, whichever comes first. The ack is held
// until the flush so a crash cannot lose committed-but-unprocessed signals.
func (d *Dispatcher) HandleSignal(ctx context.Context, signal *domain.Signal, ack func()) {
	d.mu.Lock()
	d.pending = append(d.pending, pendingSignal{signal: signal, ack: ack})
	full := len(d.pending) >= batchSize
	if !full && d.timer == nil {
		d.timer = time.AfterFunc(batchWindow, func() { d.flush(ctx) })
	}
	d.mu.Unlock()

	if full {
		d.flush(ctx)
	}
}

// Stop flushes anything pending.
func (d *Dispatcher) Stop() {
	d.flush(context.Background())
}

func (d *Dispatcher) flush(ctx context.Context) {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	entries := d.pipelines.Snapshot()
	var dispatched int
	for _, item := range batch {
		dispatched += d.dispatch(ctx, item.signal, entries)
	}
	// Offsets commit only now that every job in the batch is enqueued.
	for _, item := range batch {
		if item.ack != nil {
			item.ack()
		}
	}
	d.log.Debug().
		Int("signals", len(batch)).
		Int("jobs", dispatched).
		Msg("signal batch dispatched")
}

// dispatch matches one signal against the pipeline set and enqueues one job
// per (pipeline, ticker) hit. The subscription confidence gate uses the
// best confidence among the pipeline's matched tickers; once the pipeline
// qualifies, every matched ticker runs.
func (d *Dispatcher) dispatch(ctx context.Context, signal *domain.Signal, entries []Entry) int {
	var jobs int
	for _, entry := range entries {
		p := entry.Pipeline
		if p.TriggerMode != domain.TriggerSignal {
			continue
		}
		matched := matchTickers(signal, entry)
		if len(matched) == 0 {
			continue
		}
		if !subscribed(p, signal.SignalType, maxConfidence(matched)) {
			continue
		}
		for _, ticker := range matched {
			if !d.firstSight(ctx, signal, p.ID, ticker.Ticker) {
				continue
			}
			if err := d.enqueue(p, ticker, signal); err != nil {
				d.log.Error().Err(err).
					Str("pipeline_id", p.ID).
					Str("ticker", ticker.Ticker).
					Msg("failed to enqueue execution job")
				continue
			}
			jobs++
		}
	}
	return jobs
}

// matchTickers intersects the signal's tickers with the pipeline's scanner
// set. Routing metadata overrides scanner membership: when the signal pins
// a ticker to pipelines, only those pipelines run it.
func matchTickers(signal *domain.Signal, entry Entry) []domain.SignalEntry {
	var out []domain.SignalEntry
	for _, t := range signal.Tickers {
		if routed := signal.TickerRouting(t.Ticker); routed != nil {
			if contains(routed, entry.Pipeline.ID) {
				out = append(out, t)
			}
			continue
		}
		if entry.Tickers[t.Ticker] {
			out = append(out, t)
		}
	}
	return out
}

func maxConfidence(entries []domain.SignalEntry) float64 {
	var best float64
	for _, e := range entries {
		if e.Confidence > best {
			best = e.Confidence
		}
	}
	return best
}

// firstSight suppresses duplicate deliveries of the same signal to the same
// pipeline and ticker. Suppression failures fail open: a duplicate
// execution is caught later by the preflight guards, a silently dropped
// signal is not.
func (d *Dispatcher) firstSight(ctx context.Context, signal *domain.Signal, pipelineID, ticker string) bool {
	key := fmt.Sprintf("dispatch:%s:%s:%s", signal.SignalID, pipelineID, ticker)
	first, err := d.cache.MarkSeen(ctx, key, dedupeWindow)
	if err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("duplicate check failed, dispatching anyway")
		return true
	}
	if !first {
		d.log.Debug().
			Str("signal_id", signal.SignalID).
			Str("pipeline_id", pipelineID).
			Str("ticker", ticker).
			Msg("duplicate signal suppressed")
	}
	return first
}

func (d *Dispatcher) enqueue(p *domain.Pipeline, entry domain.SignalEntry, signal *domain.Signal) error {
	sigCtx := domain.SignalContext{
		SignalID:   signal.SignalID,
		SignalType: signal.SignalType,
		Source:     signal.Source,
		Timestamp:  signal.Timestamp,
		Tickers:    []string{entry.Ticker},
		Confidence: entry.Confidence,
		Metadata:   signal.Metadata,
	}
	return d.queue.Enqueue(&queue.Job{
		Type:     queue.JobTypePipelineExecution,
		Priority: queue.PriorityHigh,
		Payload: map[string]interface{}{
			"pipeline_id": p.ID,
			"user_id":     p.UserID,
			"ticker":      entry.Ticker,
			// Signal-triggered runs are always paper; live trading is
			// reserved for explicitly configured periodic pipelines.
			"mode":   string(domain.ModePaper),
			"signal": sigCtx,
		},
		MaxRetries: 0,
	})
}

// subscribed checks the pipeline's signal subscriptions. An empty list
// subscribes to everything at any confidence.
func subscribed(p *domain.Pipeline, st domain.SignalType, confidence float64) bool {
	if len(p.Subs) == 0 {
		return true
	}
	for _, sub := range p.Subs {
		if sub.SignalType != st {
			continue
		}
		if sub.MinConfidence != nil && confidence < *sub.MinConfidence {
			continue
		}
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
