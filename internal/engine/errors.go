package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound is returned when a run id is unknown to the engine.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunTerminal is returned when an operation targets a run that has
	// already completed, failed, or been cancelled.
	ErrRunTerminal = errors.New("run already terminal")
	// ErrNotAwaitingApproval is returned when a decision is submitted for a
	// run or step that is not suspended at an approval gate.
	ErrNotAwaitingApproval = errors.New("run is not awaiting approval for this step")
)

// HandlerError wraps a failed or timed-out step handler invocation. It is
// transient by default and subject to the step's retry policy.
type HandlerError struct {
	Agent   string
	Service string
	Action  string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s/%s.%s: %v", e.Agent, e.Service, e.Action, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ApprovalRejectedError records a rejected approval gate. It is terminal
// unless the gated step declares a fallback.
type ApprovalRejectedError struct {
	StepID   string
	Comments string
}

func (e *ApprovalRejectedError) Error() string {
	if e.Comments == "" {
		return fmt.Sprintf("approval rejected for step %q", e.StepID)
	}
	return fmt.Sprintf("approval rejected for step %q: %s", e.StepID, e.Comments)
}
