package domain

import "time"

// Action is the strategy agent's verdict. CLOSE is accepted by the state
// machine but currently only exercised through emergency-exit instructions
// in the trade manager.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
)

// Strategy is the strategy agent's output: an actionable trading plan.
type Strategy struct {
	Action     Action  `json:"action" msgpack:"action"`
	EntryPrice float64 `json:"entry_price" msgpack:"entry_price"`
	StopLoss   float64 `json:"stop_loss" msgpack:"stop_loss"`
	TakeProfit float64 `json:"take_profit" msgpack:"take_profit"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty" msgpack:"reasoning"`
}

// HasBracket reports whether the strategy carries both protective levels,
// which selects a limit bracket order over a plain market order.
func (s *Strategy) HasBracket() bool {
	return s != nil && s.StopLoss > 0 && s.TakeProfit > 0
}

// RiskAssessment is the risk manager agent's output.
type RiskAssessment struct {
	Approved        bool     `json:"approved" msgpack:"approved"`
	PositionSize    float64  `json:"position_size" msgpack:"position_size"`
	RiskRewardRatio float64  `json:"risk_reward_ratio" msgpack:"risk_reward_ratio"`
	Reasoning       string   `json:"reasoning,omitempty" msgpack:"reasoning"`
	Warnings        []string `json:"warnings,omitempty" msgpack:"warnings"`
}

// TradeExecutionStatus tracks the broker-side state of the entry order.
type TradeExecutionStatus string

const (
	TradeStatusSkipped         TradeExecutionStatus = "skipped"
	TradeStatusRejected        TradeExecutionStatus = "rejected"
	TradeStatusNoAction        TradeExecutionStatus = "no_action"
	TradeStatusAccepted        TradeExecutionStatus = "accepted"
	TradeStatusPendingFill     TradeExecutionStatus = "pending"
	TradeStatusFilled          TradeExecutionStatus = "filled"
	TradeStatusPartiallyFilled TradeExecutionStatus = "partially_filled"
	TradeStatusCancelled       TradeExecutionStatus = "cancelled"
	TradeStatusError           TradeExecutionStatus = "error"
)

// Filled reports whether the order reached (at least partial) execution.
func (s TradeExecutionStatus) Filled() bool {
	return s == TradeStatusFilled || s == TradeStatusPartiallyFilled
}

// TradeExecution records what actually happened at the broker.
type TradeExecution struct {
	OrderID        string                 `json:"order_id,omitempty" msgpack:"order_id"`
	TradeID        string                 `json:"trade_id,omitempty" msgpack:"trade_id"`
	Status         TradeExecutionStatus   `json:"status" msgpack:"status"`
	Reason         string                 `json:"reason,omitempty" msgpack:"reason"`
	FilledPrice    float64                `json:"filled_price" msgpack:"filled_price"`
	FilledQuantity float64                `json:"filled_quantity" msgpack:"filled_quantity"`
	SubmittedAt    *time.Time             `json:"submitted_at,omitempty" msgpack:"submitted_at"`
	OrderType      string                 `json:"order_type,omitempty" msgpack:"order_type"`
	BrokerResponse map[string]interface{} `json:"broker_response,omitempty" msgpack:"broker_response"`

	// Communication-error bookkeeping for the monitor phase.
	APIErrorCount       int        `json:"api_error_count" msgpack:"api_error_count"`
	LastAPIError        string     `json:"last_api_error,omitempty" msgpack:"last_api_error"`
	LastSuccessfulCheck *time.Time `json:"last_successful_check,omitempty" msgpack:"last_successful_check"`
}

// TradeOutcomeStatus classifies how a monitored trade concluded.
type TradeOutcomeStatus string

const (
	OutcomeExecuted            TradeOutcomeStatus = "executed"
	OutcomeCancelled           TradeOutcomeStatus = "cancelled"
	OutcomeNeedsReconciliation TradeOutcomeStatus = "needs_reconciliation"
)

// TradeOutcome is the final accounting for a monitored trade. PnL is only
// ever populated from broker-sourced numbers; when the broker cannot
// confirm, Status is needs_reconciliation and PnL stays nil.
type TradeOutcome struct {
	Status     TradeOutcomeStatus `json:"status" msgpack:"status"`
	PnL        *float64           `json:"pnl" msgpack:"pnl"`
	PnLPercent *float64           `json:"pnl_percent,omitempty" msgpack:"pnl_percent"`
	ExitReason string             `json:"exit_reason,omitempty" msgpack:"exit_reason"`
	ExitPrice  float64            `json:"exit_price,omitempty" msgpack:"exit_price"`
	EntryPrice float64            `json:"entry_price,omitempty" msgpack:"entry_price"`
	ClosedAt   *time.Time         `json:"closed_at,omitempty" msgpack:"closed_at"`
}

// AgentReport is a structured note an agent attaches to the run.
type AgentReport struct {
	Agent     string                 `json:"agent" msgpack:"agent"`
	Type      string                 `json:"type" msgpack:"type"`
	Message   string                 `json:"message" msgpack:"message"`
	Data      map[string]interface{} `json:"data,omitempty" msgpack:"data"`
	Timestamp time.Time              `json:"timestamp" msgpack:"timestamp"`
}

// MarketData is the per-symbol market snapshot the market data agent loads.
type MarketData struct {
	CurrentPrice float64                `json:"current_price" msgpack:"current_price"`
	Bid          float64                `json:"bid" msgpack:"bid"`
	Ask          float64                `json:"ask" msgpack:"ask"`
	Candles      map[Timeframe][]Candle `json:"candles,omitempty" msgpack:"candles"`
}

// PipelineState is the record that flows through the agent chain. Each agent
// reads what earlier agents wrote and appends its own output. The executor
// snapshots it onto the execution row after every stage.
type PipelineState struct {
	Symbol string        `json:"symbol" msgpack:"symbol"`
	Mode   ExecutionMode `json:"mode" msgpack:"mode"`

	SignalContext *SignalContext `json:"signal_context,omitempty" msgpack:"signal_context"`

	MarketData     *MarketData     `json:"market_data,omitempty" msgpack:"market_data"`
	Biases         map[string]Bias `json:"biases,omitempty" msgpack:"biases"` // keyed by timeframe
	Strategy       *Strategy       `json:"strategy,omitempty" msgpack:"strategy"`
	RiskAssessment *RiskAssessment `json:"risk_assessment,omitempty" msgpack:"risk_assessment"`
	TradeExecution *TradeExecution `json:"trade_execution,omitempty" msgpack:"trade_execution"`
	TradeOutcome   *TradeOutcome   `json:"trade_outcome,omitempty" msgpack:"trade_outcome"`

	Phase                  ExecutionPhase `json:"execution_phase" msgpack:"execution_phase"`
	MonitorIntervalMinutes float64        `json:"monitor_interval_minutes" msgpack:"monitor_interval_minutes"`
	ShouldComplete         bool           `json:"should_complete" msgpack:"should_complete"`
	CommunicationError     bool           `json:"communication_error" msgpack:"communication_error"`

	AgentReports []AgentReport      `json:"agent_reports,omitempty" msgpack:"agent_reports"`
	ExecutionLog []string           `json:"execution_log,omitempty" msgpack:"execution_log"`
	AgentCosts   map[string]float64 `json:"agent_costs,omitempty" msgpack:"agent_costs"`
}

// Log appends a line to the execution log.
func (st *PipelineState) Log(line string) {
	st.ExecutionLog = append(st.ExecutionLog, time.Now().UTC().Format(time.RFC3339)+" "+line)
}

// Report appends an agent report.
func (st *PipelineState) Report(agent, typ, message string, data map[string]interface{}) {
	st.AgentReports = append(st.AgentReports, AgentReport{
		Agent:     agent,
		Type:      typ,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// ResetMonitorFlags clears stale completion flags at the top of every
// monitor-phase call so one check's verdict never leaks into the next.
func (st *PipelineState) ResetMonitorFlags() {
	st.ShouldComplete = false
	st.CommunicationError = false
	st.TradeOutcome = nil
}
