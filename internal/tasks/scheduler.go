package tasks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/dataplane"
	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/pipeline"
	"github.com/aristath/tradewinds/internal/queue"
	"github.com/aristath/tradewinds/internal/reliability"
)

const (
	// staleRunningCutoff fails RUNNING rows whose worker died mid-agent.
	staleRunningCutoff = 20 * time.Minute

	// terminalRetention is how long finished rows stay queryable before
	// archive and cleanup.
	terminalRetention = 30 * 24 * time.Hour
)

// Scheduler owns the cron surface: periodic pipeline triggers, the
// reconciliation fan-out, and the daily housekeeping chain.
type Scheduler struct {
	cron        *cron.Cron
	pipes       *pipeline.Repository
	execs       *pipeline.ExecutionRepository
	users       *pipeline.UserRepository
	queue       *queue.Manager
	reconcile   *ReconcileTask
	prefetcher  *dataplane.Prefetcher
	archiver    *reliability.Archiver
	maintenance *reliability.MaintenanceJob
	log         zerolog.Logger
}

// NewScheduler creates the scheduler. The archiver may be nil when cold
// storage is not configured; cleanup then deletes without archiving.
func NewScheduler(
	pipes *pipeline.Repository,
	execs *pipeline.ExecutionRepository,
	users *pipeline.UserRepository,
	q *queue.Manager,
	reconcile *ReconcileTask,
	prefetcher *dataplane.Prefetcher,
	archiver *reliability.Archiver,
	maintenance *reliability.MaintenanceJob,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		pipes:       pipes,
		execs:       execs,
		users:       users,
		queue:       q,
		reconcile:   reconcile,
		prefetcher:  prefetcher,
		archiver:    archiver,
		maintenance: maintenance,
		log:         log.With().Str("component", "scheduler").Logger(),
	}
}

// Register binds the queue handlers the scheduled jobs run through.
func (s *Scheduler) Register() {
	s.queue.RegisterHandler(queue.JobTypeReconcileUser, s.reconcile.HandleJob)
	s.queue.RegisterHandler(queue.JobTypeDailyBackfill, s.handleBackfill)
	s.queue.RegisterHandler(queue.JobTypeArchiveExecutions, s.handleArchive)
	s.queue.RegisterHandler(queue.JobTypeRowCleanup, s.handleRowCleanup)
	s.queue.RegisterHandler(queue.JobTypeStaleCleanup, s.handleStaleCleanup)
	s.queue.RegisterHandler(queue.JobTypeBudgetReset, s.handleBudgetReset)
}

// Start installs the cron entries and begins dispatching.
func (s *Scheduler) Start(ctx context.Context) error {
	entries := []struct {
		spec string
		fn   func()
	}{
		{"* * * * *", func() { s.triggerPeriodic(ctx) }},
		{"* * * * *", func() { s.reconcile.FanOut(ctx) }},
		{"*/5 * * * *", func() { s.enqueue(queue.JobTypeStaleCleanup, queue.PriorityLow) }},
		{"0 * * * *", func() { s.enqueue(queue.JobTypeBudgetReset, queue.PriorityLow) }},
		{"0 1 * * *", func() { s.enqueue(queue.JobTypeDailyBackfill, queue.PriorityLow) }},
		{"0 2 * * *", func() { s.runMaintenance(ctx) }},
		{"30 2 * * *", func() { s.enqueue(queue.JobTypeArchiveExecutions, queue.PriorityLow) }},
		// Safety sweep for expired rows the archive pass could not clear.
		{"0 3 * * *", func() { s.enqueue(queue.JobTypeRowCleanup, queue.PriorityLow) }},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.log.Info().Int("entries", len(entries)).Msg("Scheduler started")
	return nil
}

// Stop halts cron dispatch and waits for running entries.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// triggerPeriodic enqueues one execution job per due periodic pipeline and
// scanner ticker. Signal-triggered runs are always paper; periodic runs
// honor the pipeline's account type.
func (s *Scheduler) triggerPeriodic(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.pipes.ListScheduledDue(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list due periodic pipelines")
		return
	}
	for _, p := range due {
		tickers := s.scannerTickers(ctx, p)
		if len(tickers) == 0 {
			continue
		}
		mode := domain.ModePaper
		if p.AccountType == "live" {
			mode = domain.ModeLive
		}
		for _, ticker := range tickers {
			if err := s.queue.Enqueue(&queue.Job{
				Type:     queue.JobTypePipelineExecution,
				Priority: queue.PriorityMedium,
				Payload: map[string]interface{}{
					"pipeline_id": p.ID,
					"user_id":     p.UserID,
					"ticker":      ticker,
					"mode":        string(mode),
				},
			}); err != nil {
				s.log.Error().Err(err).
					Str("pipeline_id", p.ID).
					Str("ticker", ticker).
					Msg("Failed to enqueue periodic execution")
			}
		}
		if err := s.pipes.MarkTriggered(ctx, p.ID, now); err != nil {
			s.log.Error().Err(err).Str("pipeline_id", p.ID).Msg("Failed to mark pipeline triggered")
		}
	}
}

func (s *Scheduler) scannerTickers(ctx context.Context, p *domain.Pipeline) []string {
	if p.ScannerID == "" {
		return nil
	}
	scanner, err := s.pipes.GetScanner(ctx, p.ScannerID)
	if err != nil {
		s.log.Error().Err(err).
			Str("pipeline_id", p.ID).
			Str("scanner_id", p.ScannerID).
			Msg("Scanner lookup failed")
		return nil
	}
	return scanner.Tickers
}

func (s *Scheduler) enqueue(jobType queue.JobType, priority queue.Priority) {
	if err := s.queue.Enqueue(&queue.Job{Type: jobType, Priority: priority}); err != nil {
		s.log.Error().Err(err).Str("job_type", string(jobType)).Msg("Failed to enqueue scheduled job")
	}
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	if err := s.maintenance.Run(ctx); err != nil {
		s.log.Error().Err(err).Msg("Maintenance failed")
	}
}

func (s *Scheduler) handleBackfill(ctx context.Context, _ *queue.Job) error {
	s.prefetcher.BackfillDaily(ctx)
	return nil
}

// handleArchive moves expired terminal rows to cold storage, or straight to
// deletion when no archive is configured.
func (s *Scheduler) handleArchive(ctx context.Context, _ *queue.Job) error {
	cutoff := time.Now().UTC().Add(-terminalRetention)
	if s.archiver == nil {
		return s.deleteTerminal(ctx, cutoff)
	}
	archived, err := s.archiver.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if archived > 0 {
		s.log.Info().Int("archived", archived).Msg("Terminal executions archived")
	}
	return nil
}

func (s *Scheduler) handleRowCleanup(ctx context.Context, _ *queue.Job) error {
	return s.deleteTerminal(ctx, time.Now().UTC().Add(-terminalRetention))
}

func (s *Scheduler) deleteTerminal(ctx context.Context, cutoff time.Time) error {
	deleted, err := s.execs.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Msg("Expired terminal executions removed")
	}
	return nil
}

func (s *Scheduler) handleStaleCleanup(ctx context.Context, _ *queue.Job) error {
	failed, err := s.execs.FailStaleRunning(ctx, time.Now().UTC().Add(-staleRunningCutoff))
	if err != nil {
		return err
	}
	if failed > 0 {
		s.log.Warn().Int64("failed", failed).Msg("Stale running executions failed")
	}
	return nil
}

func (s *Scheduler) handleBudgetReset(ctx context.Context, _ *queue.Job) error {
	reset, err := s.users.ResetDailyBudgets(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if reset > 0 {
		s.log.Info().Int64("reset", reset).Msg("Daily budgets reset")
	}
	return nil
}
