package dispatch

import (
	"errors"
	"fmt"
)

// ErrRateLimited is the cause of a drop when an event exceeds its rate
// limit and the configured policy is to drop.
var ErrRateLimited = errors.New("rate limited")

// Sentinel errors for attempts that never reach a provider.
var (
	ErrNoSender  = errors.New("no sender configured for channel")
	ErrNoAddress = errors.New("recipient has no address for channel")
)

// SendError is a provider failure with a short machine-readable code that
// is stored on the delivery attempt.
type SendError struct {
	Code string
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// errorCode extracts the attempt error code from err.
func errorCode(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrNoSender):
		return "no_sender"
	case errors.Is(err, ErrNoAddress):
		return "no_address"
	}
	return "send_failed"
}
