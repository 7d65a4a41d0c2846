package task

import (
	"errors"
	"fmt"
)

// ErrTerminal is returned when an update targets a task that already reached
// a terminal status. The update is discarded.
var ErrTerminal = errors.New("task already terminal")

// StaleReferenceError reports an operation against a task id the registry no
// longer (or never) tracked. It is an expected race, never shown to the user.
type StaleReferenceError struct {
	TaskID string
	Op     string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("%s %s: task no longer tracked", e.Op, e.TaskID)
}

// ErrorKind classifies the error for logging and metrics.
func (e *StaleReferenceError) ErrorKind() string { return "stale_reference" }

// TransitionError reports a requested status change the state machine does
// not allow. The rest of the patch is still applied.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: no transition from %s to %s", e.TaskID, e.From, e.To)
}

// ErrorKind classifies the error for logging and metrics.
func (e *TransitionError) ErrorKind() string { return "invalid_transition" }

// IsStale reports whether err means the target task was gone or finished.
func IsStale(err error) bool {
	var stale *StaleReferenceError
	return errors.As(err, &stale) || errors.Is(err, ErrTerminal)
}
