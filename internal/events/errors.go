package events

import (
	"errors"
	"fmt"
)

// ErrAlreadySubscribed is returned when a channel already has a handler.
var ErrAlreadySubscribed = errors.New("channel already subscribed")

// ErrUnknownChannel is returned for channel names the gateway does not decode.
var ErrUnknownChannel = errors.New("unknown channel")

// MalformedEventError reports a payload missing a required field or not
// decodable at all. Such events are dropped at the gateway.
type MalformedEventError struct {
	Channel Channel
	Field   string
	Err     error
}

func (e *MalformedEventError) Error() string {
	switch {
	case e.Err != nil && e.Field != "":
		return fmt.Sprintf("%s: field %s: %v", e.Channel, e.Field, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	default:
		return fmt.Sprintf("%s: missing required field %s", e.Channel, e.Field)
	}
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// ErrorKind classifies the error for logging and metrics.
func (e *MalformedEventError) ErrorKind() string { return "malformed" }
