package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/marketplace-ops/internal/dispatch"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// DISPATCH QUEUE - Priority-Ordered Notification Queue on Redis
// =============================================================================
// Three sorted sets hold job IDs:
//   - ready:      scored by priority rank, then enqueue time (ZPOPMIN order)
//   - delayed:    scored by the unix ms a retry or rate-limited job is due
//   - processing: scored by the unix ms a claimed job's lease expires
// Payloads live in a hash keyed by notification ID and each job's ready score
// in a second hash so a delayed or stale job re-enters at its original place.

// priorityBand separates priority ranks in the ready score. It exceeds any
// unix millisecond timestamp this century.
const priorityBand = 1e13

// DefaultVisibilityTimeout is how long a popped job stays leased before
// Recover hands it to another worker.
const DefaultVisibilityTimeout = 2 * time.Minute

var (
	// ErrMissingID is returned when a job's notification has no ID.
	ErrMissingID = errors.New("dispatch job has no notification id")
	// ErrDuplicateJob is returned when a notification with the same ID is
	// still queued or in flight.
	ErrDuplicateJob = errors.New("notification already queued")
)

// Lua script admitting a job only if its ID is not already stored.
const enqueueLuaScript = `
local jobs = KEYS[1]
local scores = KEYS[2]
local ready = KEYS[3]
local id = ARGV[1]

if redis.call("HSETNX", jobs, id, ARGV[2]) == 0 then
    return 0
end
redis.call("HSET", scores, id, ARGV[3])
redis.call("ZADD", ready, ARGV[3], id)
return 1
`

// Lua script moving due members of a time-scored set back into ready.
const promoteLuaScript = `
local src = KEYS[1]
local ready = KEYS[2]
local scores = KEYS[3]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local ids = redis.call("ZRANGEBYSCORE", src, "-inf", now, "LIMIT", 0, limit)
for _, id in ipairs(ids) do
    redis.call("ZREM", src, id)
    local s = redis.call("HGET", scores, id)
    if s then
        redis.call("ZADD", ready, s, id)
    end
end
return #ids
`

// Lua script claiming the lowest-scored ready jobs under a lease.
const popLuaScript = `
local ready = KEYS[1]
local processing = KEYS[2]
local deadline = tonumber(ARGV[1])
local count = tonumber(ARGV[2])

local popped = redis.call("ZPOPMIN", ready, count)
local ids = {}
for i = 1, #popped, 2 do
    redis.call("ZADD", processing, deadline, popped[i])
    table.insert(ids, popped[i])
end
return ids
`

// DispatchQueue stores dispatch jobs in Redis. It is safe for concurrent use
// by any number of workers and processes.
type DispatchQueue struct {
	redis      *redis.Client
	readyKey   string
	delayedKey string
	leaseKey   string
	jobsKey    string
	scoresKey  string
	visibility time.Duration

	enqueueScript *redis.Script
	promoteScript *redis.Script
	popScript     *redis.Script

	now func() time.Time
}

// NewDispatchQueue creates a queue whose keys start with prefix.
func NewDispatchQueue(client *redis.Client, prefix string) *DispatchQueue {
	if prefix == "" {
		prefix = "marketplace"
	}
	return &DispatchQueue{
		redis:         client,
		readyKey:      prefix + ":dispatch:ready",
		delayedKey:    prefix + ":dispatch:delayed",
		leaseKey:      prefix + ":dispatch:processing",
		jobsKey:       prefix + ":dispatch:jobs",
		scoresKey:     prefix + ":dispatch:scores",
		visibility:    DefaultVisibilityTimeout,
		enqueueScript: redis.NewScript(enqueueLuaScript),
		promoteScript: redis.NewScript(promoteLuaScript),
		popScript:     redis.NewScript(popLuaScript),
		now:           time.Now,
	}
}

func readyScore(job dispatch.Job) float64 {
	return float64(job.Priority.Rank())*priorityBand + float64(job.EnqueuedAt.UnixMilli())
}

// Enqueue admits a new job. High priority jobs are popped before medium and
// low ones; within a priority, jobs are popped in enqueue order.
func (q *DispatchQueue) Enqueue(ctx context.Context, job dispatch.Job) error {
	if job.Notification.ID == "" {
		return ErrMissingID
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	id := job.Notification.ID
	added, err := q.enqueueScript.Run(ctx, q.redis,
		[]string{q.jobsKey, q.scoresKey, q.readyKey},
		id, payload, readyScore(job),
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	if added == 0 {
		return ErrDuplicateJob
	}
	return nil
}

// Requeue stores the updated job, releases its lease and makes it ready
// again after delay.
func (q *DispatchQueue) Requeue(ctx context.Context, job dispatch.Job, delay time.Duration) error {
	if job.Notification.ID == "" {
		return ErrMissingID
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	id := job.Notification.ID
	pipe := q.redis.TxPipeline()
	pipe.HSet(ctx, q.jobsKey, id, payload)
	pipe.ZRem(ctx, q.leaseKey, id)
	if delay <= 0 {
		pipe.ZAdd(ctx, q.readyKey, redis.Z{Score: readyScore(job), Member: id})
	} else {
		due := q.now().Add(delay).UnixMilli()
		pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	return nil
}

// Promote moves up to limit delayed jobs that are due into ready.
func (q *DispatchQueue) Promote(ctx context.Context, limit int) (int, error) {
	return q.promote(ctx, q.delayedKey, limit)
}

// Recover returns up to limit jobs whose lease expired to ready, so a job
// claimed by a crashed worker is not lost.
func (q *DispatchQueue) Recover(ctx context.Context, limit int) (int, error) {
	n, err := q.promote(ctx, q.leaseKey, limit)
	if n > 0 {
		logger.Warn("dispatch queue recovered stale jobs", "count", n)
	}
	return n, err
}

func (q *DispatchQueue) promote(ctx context.Context, src string, limit int) (int, error) {
	n, err := q.promoteScript.Run(ctx, q.redis,
		[]string{src, q.readyKey, q.scoresKey},
		q.now().UnixMilli(),
		limit,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote from %s: %w", src, err)
	}
	return n, nil
}

// Pop claims up to n ready jobs. Each claimed job must be finished with Ack
// or Requeue before its lease expires.
func (q *DispatchQueue) Pop(ctx context.Context, n int) ([]dispatch.Job, error) {
	deadline := q.now().Add(q.visibility).UnixMilli()
	ids, err := q.popScript.Run(ctx, q.redis,
		[]string{q.readyKey, q.leaseKey},
		deadline,
		n,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop dispatch jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := q.redis.HMGet(ctx, q.jobsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load dispatch jobs: %w", err)
	}

	jobs := make([]dispatch.Job, 0, len(ids))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			// Payload gone; nothing to run.
			q.redis.ZRem(ctx, q.leaseKey, ids[i])
			continue
		}
		var job dispatch.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			logger.Error("discarding undecodable dispatch job", "notification_id", ids[i], "error", err)
			_ = q.Ack(ctx, ids[i])
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack removes a finished job.
func (q *DispatchQueue) Ack(ctx context.Context, id string) error {
	pipe := q.redis.TxPipeline()
	pipe.ZRem(ctx, q.leaseKey, id)
	pipe.ZRem(ctx, q.readyKey, id)
	pipe.ZRem(ctx, q.delayedKey, id)
	pipe.HDel(ctx, q.jobsKey, id)
	pipe.HDel(ctx, q.scoresKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// QueueDepth reports how many jobs sit in each set.
type QueueDepth struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
}

// Depth returns the current queue sizes.
func (q *DispatchQueue) Depth(ctx context.Context) (QueueDepth, error) {
	pipe := q.redis.Pipeline()
	ready := pipe.ZCard(ctx, q.readyKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	processing := pipe.ZCard(ctx, q.leaseKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueDepth{}, fmt.Errorf("queue depth: %w", err)
	}
	return QueueDepth{Ready: ready.Val(), Delayed: delayed.Val(), Processing: processing.Val()}, nil
}
