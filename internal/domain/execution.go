package domain

import (
	"time"
)

// ExecutionStatus is the authoritative lifecycle state of an execution row.
type ExecutionStatus string

const (
	StatusPending             ExecutionStatus = "PENDING"
	StatusRunning             ExecutionStatus = "RUNNING"
	StatusMonitoring          ExecutionStatus = "MONITORING"
	StatusCompleted           ExecutionStatus = "COMPLETED"
	StatusFailed              ExecutionStatus = "FAILED"
	StatusCancelled           ExecutionStatus = "CANCELLED"
	StatusPaused              ExecutionStatus = "PAUSED"
	StatusCommunicationError  ExecutionStatus = "COMMUNICATION_ERROR"
	StatusNeedsReconciliation ExecutionStatus = "NEEDS_RECONCILIATION"
	StatusAwaitingApproval    ExecutionStatus = "AWAITING_APPROVAL"
)

// ActiveStatuses are the states that count against the one-active-execution
// guards for a (pipeline, symbol) pair.
var ActiveStatuses = []ExecutionStatus{
	StatusPending, StatusRunning, StatusMonitoring, StatusCommunicationError,
}

// TradeActiveStatuses are the states that count against the one-active-trade
// guard for a (user, symbol) pair.
var TradeActiveStatuses = []ExecutionStatus{
	StatusMonitoring, StatusCommunicationError,
}

// Terminal reports whether the status is a final state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNeedsReconciliation:
		return true
	}
	return false
}

// ExecutionPhase is the coarse progress marker snapshotted alongside status.
type ExecutionPhase string

const (
	PhasePending              ExecutionPhase = "pending"
	PhaseRunning              ExecutionPhase = "running"
	PhaseMonitoring           ExecutionPhase = "monitoring"
	PhaseCompleted            ExecutionPhase = "completed"
	PhaseNeedsReconciliation  ExecutionPhase = "needs_reconciliation"
)

// ExecutionMode selects how orders are routed.
type ExecutionMode string

const (
	ModeLive       ExecutionMode = "live"
	ModePaper      ExecutionMode = "paper"
	ModeSimulation ExecutionMode = "simulation"
	ModeValidation ExecutionMode = "validation"
)

// AgentStatus tracks one agent's progress inside an execution.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentSkipped   AgentStatus = "skipped"
)

// AgentState is the per-agent progress record persisted on the execution row
// so the UI observes real-time status even if the worker dies mid-agent.
type AgentState struct {
	AgentID     string      `json:"agent_id"`
	AgentType   string      `json:"agent_type"`
	Status      AgentStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Cost        float64     `json:"cost"`
}

// ExecutionResult is the denormalized structured output of a run, kept as a
// JSON document column for cheap reads.
type ExecutionResult struct {
	Bias           map[string]Bias        `json:"bias,omitempty"`
	Strategy       *Strategy              `json:"strategy,omitempty"`
	RiskAssessment *RiskAssessment        `json:"risk_assessment,omitempty"`
	TradeExecution *TradeExecution        `json:"trade_execution,omitempty"`
	TradeOutcome   *TradeOutcome          `json:"trade_outcome,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Errors         []string               `json:"errors,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
	AgentReports   []AgentReport          `json:"agent_reports,omitempty"`
	Artifacts      map[string]interface{} `json:"artifacts,omitempty"`
}

// Execution is the canonical record of one pipeline run for one ticker.
// The symbol never changes after creation. All writers use compare-and-set
// on Version.
type Execution struct {
	ID         string        `json:"execution_id"`
	PipelineID string        `json:"pipeline_id"`
	UserID     string        `json:"user_id"`
	Symbol     string        `json:"symbol"`
	Mode       ExecutionMode `json:"mode"`

	Status ExecutionStatus `json:"status"`
	Phase  ExecutionPhase  `json:"execution_phase"`

	// Signal records why the execution was triggered; nil for periodic runs.
	Signal *SignalContext `json:"signal,omitempty"`

	// Version is a monotonic integer for optimistic concurrency.
	Version int64 `json:"version"`

	AgentStates []AgentState     `json:"agent_states"`
	Result      *ExecutionResult `json:"result,omitempty"`

	// Snapshot is the msgpack-encoded PipelineState of the in-flight run.
	Snapshot []byte `json:"-"`

	Logs          []string           `json:"logs,omitempty"`
	Reports       []AgentReport      `json:"reports,omitempty"`
	Cost          float64            `json:"cost"`
	CostBreakdown map[string]float64 `json:"cost_breakdown,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// MonitorIntervalMinutes defaults to 5.0 and drops to 0.25 once an
	// order is live on the broker.
	MonitorIntervalMinutes float64    `json:"monitor_interval_minutes"`
	NextCheckAt            *time.Time `json:"next_check_at,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MonitorInterval returns the monitoring interval as a duration.
func (e *Execution) MonitorInterval() time.Duration {
	m := e.MonitorIntervalMinutes
	if m <= 0 {
		m = 5.0
	}
	return time.Duration(m * float64(time.Minute))
}
