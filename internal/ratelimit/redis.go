package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sliding window over a sorted set of admission timestamps. Entries older
// than the window are trimmed before counting, so the check and the insert
// happen atomically.
const slidingWindowLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)

if count >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    local retry = window
    if oldest[2] then
        retry = tonumber(oldest[2]) + window - now
    end
    return {0, count, retry}  -- denied
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return {1, count + 1, 0}  -- allowed
`

// RedisLimiter shares limits across every dispatcher instance.
type RedisLimiter struct {
	redis  *redis.Client
	prefix string
	script *redis.Script
	now    func() time.Time
}

// NewRedisLimiter creates a limiter storing windows under prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "marketplace"
	}
	return &RedisLimiter{
		redis:  client,
		prefix: prefix,
		script: redis.NewScript(slidingWindowLuaScript),
		now:    time.Now,
	}
}

// Allow records an admission for eventType if the window has room.
func (l *RedisLimiter) Allow(ctx context.Context, eventType string, limitPerMinute int) (Decision, error) {
	if limitPerMinute <= 0 {
		return Decision{Allowed: true}, nil
	}

	key := fmt.Sprintf("%s:ratelimit:event:%s", l.prefix, eventType)
	nowMs := l.now().UnixMilli()

	result, err := l.script.Run(ctx, l.redis,
		[]string{key},
		nowMs,
		Window.Milliseconds(),
		limitPerMinute,
		fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	d := Decision{
		Allowed: result[0] == 1,
		Limit:   limitPerMinute,
	}
	if d.Allowed {
		d.Remaining = limitPerMinute - int(result[1])
	} else {
		d.RetryAfter = time.Duration(result[2]) * time.Millisecond
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Millisecond
		}
	}
	return d, nil
}

// Usage returns how many admissions the current window holds for eventType.
func (l *RedisLimiter) Usage(ctx context.Context, eventType string) (int64, error) {
	key := fmt.Sprintf("%s:ratelimit:event:%s", l.prefix, eventType)
	since := l.now().Add(-Window).UnixMilli()
	return l.redis.ZCount(ctx, key, fmt.Sprintf("(%d", since), "+inf").Result()
}
