// Package events provides event management functionality.
package events

// EventType represents different event types
type EventType string

const (
	// Execution lifecycle
	ExecutionStarted       EventType = "EXECUTION_STARTED"
	ExecutionStatusChanged EventType = "EXECUTION_STATUS_CHANGED"
	AgentCompleted         EventType = "AGENT_COMPLETED"
	ApprovalRequested      EventType = "APPROVAL_REQUESTED"

	// Trading
	TradeExecuted  EventType = "TRADE_EXECUTED"
	PositionClosed EventType = "POSITION_CLOSED"

	// Signals
	SignalDispatched EventType = "SIGNAL_DISPATCHED"

	// Maintenance
	ReconciliationCompleted EventType = "RECONCILIATION_COMPLETED"

	// System
	ErrorOccurred EventType = "ERROR_OCCURRED"
)
