package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ExecutionStartedData contains data for ExecutionStarted events
type ExecutionStartedData struct {
	ExecutionID string `json:"execution_id"`
	PipelineID  string `json:"pipeline_id"`
	UserID      string `json:"user_id"`
	Symbol      string `json:"symbol"`
	Mode        string `json:"mode"`
	SignalID    string `json:"signal_id,omitempty"`
}

// EventType returns the event type for ExecutionStartedData
func (d *ExecutionStartedData) EventType() EventType {
	return ExecutionStarted
}

// ExecutionStatusChangedData contains data for ExecutionStatusChanged events
type ExecutionStatusChangedData struct {
	ExecutionID string `json:"execution_id"`
	PipelineID  string `json:"pipeline_id"`
	Symbol      string `json:"symbol"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
}

// EventType returns the event type for ExecutionStatusChangedData
func (d *ExecutionStatusChangedData) EventType() EventType {
	return ExecutionStatusChanged
}

// AgentCompletedData contains data for AgentCompleted events
type AgentCompletedData struct {
	ExecutionID string  `json:"execution_id"`
	AgentType   string  `json:"agent_type"`
	Status      string  `json:"status"`
	Cost        float64 `json:"cost"`
}

// EventType returns the event type for AgentCompletedData
func (d *AgentCompletedData) EventType() EventType {
	return AgentCompleted
}

// ApprovalRequestedData contains data for ApprovalRequested events
type ApprovalRequestedData struct {
	ExecutionID string  `json:"execution_id"`
	PipelineID  string  `json:"pipeline_id"`
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"`
	Qty         float64 `json:"qty"`
}

// EventType returns the event type for ApprovalRequestedData
func (d *ApprovalRequestedData) EventType() EventType {
	return ApprovalRequested
}

// TradeExecutedData contains data for TradeExecuted events
type TradeExecutedData struct {
	ExecutionID string  `json:"execution_id"`
	Symbol      string  `json:"symbol"`
	OrderID     string  `json:"order_id"`
	Side        string  `json:"side"`
	Qty         float64 `json:"qty"`
	OrderType   string  `json:"order_type"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// PositionClosedData contains data for PositionClosed events
type PositionClosedData struct {
	ExecutionID string   `json:"execution_id"`
	Symbol      string   `json:"symbol"`
	Outcome     string   `json:"outcome"`
	PnL         *float64 `json:"pnl"`
	ExitReason  string   `json:"exit_reason,omitempty"`
}

// EventType returns the event type for PositionClosedData
func (d *PositionClosedData) EventType() EventType {
	return PositionClosed
}

// SignalDispatchedData contains data for SignalDispatched events
type SignalDispatchedData struct {
	SignalID   string `json:"signal_id"`
	SignalType string `json:"signal_type"`
	PipelineID string `json:"pipeline_id"`
	Ticker     string `json:"ticker"`
}

// EventType returns the event type for SignalDispatchedData
func (d *SignalDispatchedData) EventType() EventType {
	return SignalDispatched
}

// ReconciliationCompletedData contains data for ReconciliationCompleted events
type ReconciliationCompletedData struct {
	UserID     string `json:"user_id"`
	Checked    int    `json:"checked"`
	Recovered  int    `json:"recovered"`
	Concluded  int    `json:"concluded"`
	Unresolved int    `json:"unresolved"`
}

// EventType returns the event type for ReconciliationCompletedData
func (d *ReconciliationCompletedData) EventType() EventType {
	return ReconciliationCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
