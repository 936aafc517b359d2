package task

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no Task exists for the requested identity.
var ErrNotFound = errors.New("task not found")

// InvalidTransitionError reports a status change that is not an edge of the
// lifecycle state machine. The Task is left unchanged.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task transition %s -> %s", e.From, e.To)
}

// CannotEscalateError reports an Escalate call on a Task whose status does
// not allow escalation (terminal statuses).
type CannotEscalateError struct {
	Status Status
}

func (e *CannotEscalateError) Error() string {
	return fmt.Sprintf("cannot escalate task in status %s", e.Status)
}

// ValidationError reports bad input rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
