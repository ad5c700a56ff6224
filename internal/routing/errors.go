package routing

import "errors"

// ErrUnknownEventType is returned when no route is configured for an event
// type. It is a configuration gap, not a transient fault.
var ErrUnknownEventType = errors.New("unknown event type")

// Causes attached to terminal Drop actions.
var (
	ErrEventDisabled     = errors.New("event disabled")
	ErrPolicyDrop        = errors.New("policy=drop")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrFallbackExhausted = errors.New("fallback exhausted")
)
