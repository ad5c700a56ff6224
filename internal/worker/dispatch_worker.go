package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/marketplace-ops/internal/dispatch"
	"github.com/ignite/marketplace-ops/internal/metrics"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Stepper advances a dispatch job by one send.
type Stepper interface {
	Step(ctx context.Context, job dispatch.Job) (dispatch.Outcome, error)
}

// DispatchWorker drains the dispatch queue: it promotes due retries,
// reclaims stale leases, pops ready jobs and runs one dispatcher step per
// job with bounded concurrency.
type DispatchWorker struct {
	queue        *DispatchQueue
	dispatcher   Stepper
	concurrency  int
	batchSize    int
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	totalDelivered int64
	totalDropped   int64
	totalRequeued  int64
}

// NewDispatchWorker creates a worker. Non-positive settings select
// defaults of 8 concurrent steps, batches of 50 and a 200ms poll.
func NewDispatchWorker(queue *DispatchQueue, dispatcher Stepper, concurrency, batchSize int, pollInterval time.Duration) *DispatchWorker {
	if concurrency <= 0 {
		concurrency = 8
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &DispatchWorker{
		queue:        queue,
		dispatcher:   dispatcher,
		concurrency:  concurrency,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Start begins polling in the background.
func (w *DispatchWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	logger.Info("dispatch worker starting",
		"concurrency", w.concurrency, "batch_size", w.batchSize, "poll_interval", w.pollInterval)

	w.wg.Add(1)
	go w.loop()
}

// Stop cancels polling and waits for in-flight steps to finish.
func (w *DispatchWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	stats := w.Stats()
	logger.Info("dispatch worker stopped",
		"delivered", stats["total_delivered"], "dropped", stats["total_dropped"], "requeued", stats["total_requeued"])
}

// Stats returns cumulative job outcomes.
func (w *DispatchWorker) Stats() map[string]int64 {
	return map[string]int64{
		"total_delivered": atomic.LoadInt64(&w.totalDelivered),
		"total_dropped":   atomic.LoadInt64(&w.totalDropped),
		"total_requeued":  atomic.LoadInt64(&w.totalRequeued),
	}
}

func (w *DispatchWorker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}

		// Keep draining while full batches come back.
		for {
			n, err := w.RunOnce(w.ctx)
			if err != nil {
				if w.ctx.Err() == nil {
					logger.Error("dispatch worker poll failed", "error", err)
				}
				break
			}
			if n < w.batchSize || w.ctx.Err() != nil {
				break
			}
		}
	}
}

// RunOnce performs a single poll and returns how many jobs it processed.
func (w *DispatchWorker) RunOnce(ctx context.Context) (int, error) {
	if _, err := w.queue.Promote(ctx, w.batchSize*4); err != nil {
		return 0, err
	}
	if _, err := w.queue.Recover(ctx, w.batchSize); err != nil {
		return 0, err
	}

	jobs, err := w.queue.Pop(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			w.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	if depth, err := w.queue.Depth(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues("ready").Set(float64(depth.Ready))
		metrics.QueueDepth.WithLabelValues("delayed").Set(float64(depth.Delayed))
		metrics.QueueDepth.WithLabelValues("processing").Set(float64(depth.Processing))
	}
	return len(jobs), nil
}

func (w *DispatchWorker) process(ctx context.Context, job dispatch.Job) {
	id := job.Notification.ID

	out, err := w.dispatcher.Step(ctx, job)
	if err != nil {
		// Shutting down mid-batch: hand the job back untouched. Use a fresh
		// context since ctx is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rqErr := w.queue.Requeue(rctx, job, 0); rqErr != nil {
			logger.Error("requeue after step error", "notification_id", id, "error", rqErr)
		}
		return
	}

	// The send already happened; record its result even during shutdown.
	bctx := context.WithoutCancel(ctx)
	switch out.Status {
	case dispatch.StatusRequeue:
		atomic.AddInt64(&w.totalRequeued, 1)
		if err := w.queue.Requeue(bctx, out.Job, out.Delay); err != nil {
			logger.Error("requeue dispatch job", "notification_id", id, "error", err)
		}
	case dispatch.StatusDelivered:
		atomic.AddInt64(&w.totalDelivered, 1)
		w.ack(bctx, id)
	case dispatch.StatusDropped:
		atomic.AddInt64(&w.totalDropped, 1)
		w.ack(bctx, id)
	}
}

func (w *DispatchWorker) ack(ctx context.Context, id string) {
	if err := w.queue.Ack(ctx, id); err != nil {
		logger.Error("ack dispatch job", "notification_id", id, "error", err)
	}
}
