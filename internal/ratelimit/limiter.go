// Package ratelimit enforces per-event-type send limits over a rolling
// 60-second window.
package ratelimit

import (
	"context"
	"time"
)

// Window is the span a per-minute limit is measured over.
const Window = time.Minute

// Decision is the result of a single admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Limiter admits at most limitPerMinute notifications of an event type in
// any rolling minute. A non-positive limit admits everything.
type Limiter interface {
	Allow(ctx context.Context, eventType string, limitPerMinute int) (Decision, error)
}

// Fallback consults Primary and, when it errors, Secondary. It lets the
// dispatcher keep enforcing limits per process while Redis is unreachable.
type Fallback struct {
	Primary   Limiter
	Secondary Limiter
	// OnError is called with every primary failure. Optional.
	OnError func(err error)
}

// Allow implements Limiter.
func (f *Fallback) Allow(ctx context.Context, eventType string, limitPerMinute int) (Decision, error) {
	d, err := f.Primary.Allow(ctx, eventType, limitPerMinute)
	if err == nil {
		return d, nil
	}
	if f.OnError != nil {
		f.OnError(err)
	}
	return f.Secondary.Allow(ctx, eventType, limitPerMinute)
}
