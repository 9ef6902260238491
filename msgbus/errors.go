package msgbus

import (
	"fmt"
	"time"
)

// NoResponderError is returned when a request type has no registered
// handler: the channel exists but nobody is listening on the other end.
type NoResponderError struct {
	Type Type
}

func (e *NoResponderError) Error() string {
	return fmt.Sprintf("msgbus: no responder for %s", e.Type)
}

// TimeoutError is returned when the responder did not answer within the
// request deadline. Distinct from any failure the responder itself reports.
type TimeoutError struct {
	Type  Type
	ID    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("msgbus: request %s (%s) timed out after %s", e.ID, e.Type, e.After)
}

// UnknownTypeError is returned for a message type outside the protocol set.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("msgbus: unknown message type %q", e.Type)
}

// InvalidPayloadError is returned when a payload cannot be encoded or fails
// schema validation for its message type.
type InvalidPayloadError struct {
	Type  Type
	Cause error
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("msgbus: invalid payload for %s: %v", e.Type, e.Cause)
}

func (e *InvalidPayloadError) Unwrap() error { return e.Cause }
