package domain

import "time"

// TriggerMode selects how a pipeline's executions are started.
type TriggerMode string

const (
	TriggerSignal   TriggerMode = "signal"
	TriggerPeriodic TriggerMode = "periodic"
)

// AgentNode is one configured step in a pipeline graph. Only nodes whose
// AgentType matches the fixed execution sequence are run; unknown or tool
// nodes are skipped.
type AgentNode struct {
	ID        string                 `json:"id"`
	AgentType string                 `json:"agent_type"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

// SignalSubscription filters which signals trigger a pipeline. An empty
// subscription list on the pipeline means "subscribe to all".
type SignalSubscription struct {
	SignalType    SignalType `json:"signal_type"`
	MinConfidence *float64   `json:"min_confidence,omitempty"`
}

// Pipeline is a user-owned trading pipeline configuration. Running
// executions snapshot it; edits never affect in-flight runs.
type Pipeline struct {
	ID     string `json:"pipeline_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	Nodes       []AgentNode          `json:"nodes"`
	TriggerMode TriggerMode          `json:"trigger_mode"`
	ScannerID   string               `json:"scanner_id,omitempty"`
	Subs        []SignalSubscription `json:"signal_subscriptions,omitempty"`

	// IntervalMinutes applies to periodic pipelines only.
	IntervalMinutes float64 `json:"interval_minutes,omitempty"`

	// RequireApproval gates the trade manager behind a human approval in
	// the configured modes.
	RequireApproval bool `json:"require_approval"`

	// NotifyEvents lists opted-in notification events, e.g. trade_executed.
	NotifyEvents []string `json:"notify_events,omitempty"`

	// Broker settings resolved per execution.
	BrokerType  string `json:"broker_type,omitempty"` // alpaca, oanda, tradier
	AccountID   string `json:"account_id,omitempty"`
	AccountType string `json:"account_type,omitempty"` // practice, live

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WantsNotification reports whether the pipeline opted into an event.
func (p *Pipeline) WantsNotification(event string) bool {
	for _, e := range p.NotifyEvents {
		if e == event {
			return true
		}
	}
	return false
}

// AgentNode returns the first node of the given agent type, if configured.
func (p *Pipeline) AgentNode(agentType string) (AgentNode, bool) {
	for _, n := range p.Nodes {
		if n.AgentType == agentType {
			return n, true
		}
	}
	return AgentNode{}, false
}

// Scanner is a named set of ticker symbols owned by a user. Read-only at
// execution time.
type Scanner struct {
	ID        string    `json:"scanner_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Tickers   []string  `json:"tickers"`
	CreatedAt time.Time `json:"created_at"`
}

// UserBudget caps per-user spend. The daily counter is reset by a
// housekeeping task once daily_reset_at is 24h old.
type UserBudget struct {
	UserID       string    `json:"user_id"`
	DailyLimit   float64   `json:"daily_limit"`
	MonthlyLimit float64   `json:"monthly_limit"`
	DailySpent   float64   `json:"daily_spent"`
	MonthlySpent float64   `json:"monthly_spent"`
	DailyResetAt time.Time `json:"daily_reset_at"`
}

// Exceeded reports whether either cap is hit. Zero limits mean unlimited.
func (b *UserBudget) Exceeded() bool {
	if b == nil {
		return false
	}
	if b.DailyLimit > 0 && b.DailySpent >= b.DailyLimit {
		return true
	}
	if b.MonthlyLimit > 0 && b.MonthlySpent >= b.MonthlyLimit {
		return true
	}
	return false
}
