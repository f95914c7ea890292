package agents

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientData means the market cannot supply the candles an agent
// needs. Critical: analysis built on missing data is worse than no run.
var ErrInsufficientData = errors.New("insufficient market data")

// ErrTriggerNotMet means the agent's conditions are simply not present.
// The stage is skipped without failing the run.
var ErrTriggerNotMet = errors.New("trigger conditions not met")

// Error wraps an agent failure with its origin.
type Error struct {
	Agent string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Agent, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Critical reports whether the failure must abort the run. Risk manager
// failures always abort: trading without a risk verdict is not an option.
// Data, budget and auth failures abort regardless of which agent raised
// them.
func (e *Error) Critical() bool {
	if e.Agent == TypeRiskManager {
		return true
	}
	if errors.Is(e.Err, ErrInsufficientData) {
		return true
	}
	msg := e.Err.Error()
	for _, marker := range []string{"InsufficientDataError", "BudgetExceededException", "AuthenticationError"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Skippable reports whether the error only skips the current stage.
// Insufficient data is deliberately not skippable: it fails the run.
func Skippable(err error) bool {
	return errors.Is(err, ErrTriggerNotMet)
}
