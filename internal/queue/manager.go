// Package queue provides the in-process job queue that drives pipeline
// executions, monitor checks and maintenance work. Jobs are ordered by
// priority, then by creation time, and may carry a deferred AvailableAt.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler processes one job. A returned error consumes a retry; a panic is
// recovered and treated the same way.
type Handler func(ctx context.Context, job *Job) error

// Manager owns the job heap and the worker pool.
type Manager struct {
	mu       sync.Mutex
	jobs     jobHeap
	handlers map[JobType]Handler
	wake     chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	log      zerolog.Logger
}

// NewManager creates a queue manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		handlers: make(map[JobType]Handler),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		log:      log.With().Str("component", "queue").Logger(),
	}
}

// RegisterHandler binds a job type to its handler. Must be called before
// Start; enqueued jobs with no handler are dropped with an error log.
func (m *Manager) RegisterHandler(jobType JobType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

// Enqueue adds a job. Missing ID and CreatedAt are filled in.
func (m *Manager) Enqueue(job *Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	heap.Push(&m.jobs, job)
	size := m.jobs.Len()
	m.mu.Unlock()

	m.log.Debug().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("queue_size", size).
		Msg("job enqueued")

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Size returns the number of queued jobs, including deferred ones.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs.Len()
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context, workers int) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.log.Warn().Msg("queue already started, ignoring")
		return
	}
	m.started = true
	m.mu.Unlock()

	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.log.Info().Int("workers", workers).Msg("queue started")
}

// Stop signals workers and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info().Int("remaining", m.Size()).Msg("queue stopped")
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		job, wait := m.next()
		if job == nil {
			select {
			case <-m.wake:
			case <-time.After(wait):
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		m.run(ctx, id, job)

		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

// next pops the highest priority available job, or returns how long to wait
// for the earliest deferred one.
func (m *Manager) next() (*Job, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if m.jobs.Len() == 0 {
		return nil, time.Second
	}
	if job := m.jobs.popAvailable(now); job != nil {
		return job, 0
	}
	wait := m.jobs.earliestAvailable().Sub(now)
	if wait < 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	if wait > time.Second {
		wait = time.Second
	}
	return nil, wait
}

func (m *Manager) run(ctx context.Context, workerID int, job *Job) {
	m.mu.Lock()
	handler, ok := m.handlers[job.Type]
	m.mu.Unlock()
	if !ok {
		m.log.Error().
			Str("job_id", job.ID).
			Str("job_type", string(job.Type)).
			Msg("no handler for job type, dropped")
		return
	}

	start := time.Now()
	err := m.invoke(ctx, handler, job)
	if err == nil {
		m.log.Debug().
			Str("job_id", job.ID).
			Str("job_type", string(job.Type)).
			Int("worker", workerID).
			Dur("took", time.Since(start)).
			Msg("job completed")
		return
	}

	if job.Retries < job.MaxRetries {
		job.Retries++
		// Linear backoff keeps a flapping handler from hot-looping.
		job.AvailableAt = time.Now().UTC().Add(time.Duration(job.Retries) * 5 * time.Second)
		m.log.Warn().Err(err).
			Str("job_id", job.ID).
			Str("job_type", string(job.Type)).
			Int("retry", job.Retries).
			Msg("job failed, requeued")
		_ = m.Enqueue(job)
		return
	}
	m.log.Error().Err(err).
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("retries", job.Retries).
		Msg("job failed permanently")
}

// invoke runs the handler with panic recovery.
func (m *Manager) invoke(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in job handler: %v", p)
		}
	}()
	return handler(ctx, job)
}

// jobHeap orders by priority descending, then creation time ascending.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// popAvailable removes and returns the best job whose AvailableAt has
// passed. Deferred jobs popped along the way are pushed back.
func (h *jobHeap) popAvailable(now time.Time) *Job {
	var deferred []*Job
	var found *Job
	for h.Len() > 0 {
		job := heap.Pop(h).(*Job)
		if job.Available(now) {
			found = job
			break
		}
		deferred = append(deferred, job)
	}
	for _, job := range deferred {
		heap.Push(h, job)
	}
	return found
}

// earliestAvailable returns the soonest AvailableAt among deferred jobs.
func (h jobHeap) earliestAvailable() time.Time {
	earliest := h[0].AvailableAt
	for _, job := range h[1:] {
		if job.AvailableAt.Before(earliest) {
			earliest = job.AvailableAt
		}
	}
	return earliest
}
