package command

import (
	"errors"
	"fmt"
)

// ErrorClassifier lets errors declare how they should be surfaced.
type ErrorClassifier interface {
	ErrorKind() string
}

// TransportError reports a failed backend RPC, whether the backend rejected
// the call or it never arrived.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorKind classifies the error for logging and metrics.
func (e *TransportError) ErrorKind() string { return "transport" }

// Message returns the human-readable reason, without the operation prefix.
func (e *TransportError) Message() string {
	if e.Err == nil {
		return "request failed"
	}
	return e.Err.Error()
}

// Kind returns the classification of err, or "unknown".
func Kind(err error) string {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return "unknown"
}

// UserVisible reports whether err should reach the user. Only transport
// failures do; stale references and malformed events are local recoveries.
func UserVisible(err error) bool {
	return err != nil && Kind(err) == "transport"
}
