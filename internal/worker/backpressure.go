package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/marketplace-ops/internal/pkg/logger"
)

// DepthSource reports dispatch queue sizes.
type DepthSource interface {
	Depth(ctx context.Context) (QueueDepth, error)
}

// BackpressureMonitor watches the dispatch backlog and signals when
// admission of new low and medium priority notifications should pause. It
// pauses at maxDepth and resumes once the backlog drains below half of it,
// so the state does not flap around the threshold.
type BackpressureMonitor struct {
	queue         DepthSource
	maxQueueDepth int64
	checkInterval time.Duration
	paused        bool
	lastDepth     int64
	mu            sync.RWMutex
}

// NewBackpressureMonitor creates a monitor pausing at maxDepth jobs waiting
// (ready plus delayed). maxDepth <= 0 defaults to 100,000.
func NewBackpressureMonitor(queue DepthSource, maxDepth int64) *BackpressureMonitor {
	if maxDepth <= 0 {
		maxDepth = 100000
	}
	return &BackpressureMonitor{
		queue:         queue,
		maxQueueDepth: maxDepth,
		checkInterval: 10 * time.Second,
	}
}

// Start runs the periodic check loop. It blocks until ctx is cancelled.
func (bp *BackpressureMonitor) Start(ctx context.Context) {
	bp.check(ctx)

	ticker := time.NewTicker(bp.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bp.check(ctx)
		}
	}
}

// check reads the current backlog and updates the paused flag.
func (bp *BackpressureMonitor) check(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	d, err := bp.queue.Depth(qctx)
	if err != nil {
		logger.Warn("backpressure: depth check failed", "error", err)
		return
	}
	depth := d.Ready + d.Delayed

	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.lastDepth = depth
	wasPaused := bp.paused
	if depth >= bp.maxQueueDepth {
		bp.paused = true
		if !wasPaused {
			logger.Warn("backpressure: pausing admission", "depth", depth, "threshold", bp.maxQueueDepth)
		}
	} else if depth < bp.maxQueueDepth/2 {
		bp.paused = false
		if wasPaused {
			logger.Info("backpressure: resuming admission", "depth", depth, "resume_below", bp.maxQueueDepth/2)
		}
	}
}

// IsPaused returns true if admission should be paused.
func (bp *BackpressureMonitor) IsPaused() bool {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.paused
}

// LastDepth returns the backlog seen by the latest check.
func (bp *BackpressureMonitor) LastDepth() int64 {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.lastDepth
}
