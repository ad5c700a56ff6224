package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is a process-local token bucket per event type, used when no
// Redis is configured. The bucket refills at limit/60 tokens per second with
// a burst of limit, which bounds any rolling minute to at most twice the
// limit and a sustained rate to exactly the limit.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limit int
	lim   *rate.Limiter
}

// NewLocalLimiter creates an empty local limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

// Allow takes a token for eventType if one is available.
func (l *LocalLimiter) Allow(_ context.Context, eventType string, limitPerMinute int) (Decision, error) {
	if limitPerMinute <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[eventType]
	if !ok || b.limit != limitPerMinute {
		b = &bucket{
			limit: limitPerMinute,
			lim:   rate.NewLimiter(rate.Limit(float64(limitPerMinute)/Window.Seconds()), limitPerMinute),
		}
		l.buckets[eventType] = b
	}
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Limit: limitPerMinute, RetryAfter: Window}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Limit: limitPerMinute, RetryAfter: delay}, nil
	}
	return Decision{
		Allowed:   true,
		Limit:     limitPerMinute,
		Remaining: int(b.lim.TokensAt(now)),
	}, nil
}
