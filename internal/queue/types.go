package queue

import "time"

// JobType represents the type of job
type JobType string

const (
	JobTypePipelineExecution JobType = "pipeline_execution"
	JobTypeMonitorCheck      JobType = "monitor_check"
	JobTypeReconcileUser     JobType = "reconcile_user"
	JobTypeDailyBackfill     JobType = "daily_backfill"
	JobTypeArchiveExecutions JobType = "archive_executions"
	JobTypeStaleCleanup      JobType = "stale_cleanup"
	JobTypeRowCleanup        JobType = "row_cleanup"
	JobTypeBudgetReset       JobType = "budget_reset"
)

// Priority represents job priority
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Job represents a queued job
type Job struct {
	ID        string
	Type      JobType
	Priority  Priority
	Payload   map[string]interface{}
	CreatedAt time.Time
	// AvailableAt defers delivery: workers will not pick the job up
	// before this time. Zero means immediately available.
	AvailableAt time.Time
	Retries     int
	MaxRetries  int
}

// Available reports whether the job may be delivered at the given time.
func (j *Job) Available(now time.Time) bool {
	return j.AvailableAt.IsZero() || !j.AvailableAt.After(now)
}
