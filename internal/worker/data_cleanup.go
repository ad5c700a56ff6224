package worker

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ignite/marketplace-ops/internal/pkg/logger"
)

// =============================================================================
// DATA CLEANUP WORKER - Delivery Log Retention
// =============================================================================
// delivery_attempts grows by one row per send and notification_drops by one
// row per drop. Retention:
//   - delivery attempts: 30 days
//   - drop reports:      90 days
//
// Deletes run in batches so no single statement holds locks for long.

const (
	// DefaultCleanupInterval is how often the cleanup cycle runs.
	DefaultCleanupInterval = 1 * time.Hour

	// cleanupBatchSize limits each DELETE.
	cleanupBatchSize = 10000
)

// Retention sets how long each delivery log table is kept.
type Retention struct {
	Attempts time.Duration
	Drops    time.Duration
}

// DefaultRetention keeps attempts for 30 days and drops for 90.
var DefaultRetention = Retention{Attempts: 30 * 24 * time.Hour, Drops: 90 * 24 * time.Hour}

// DataCleanupWorker periodically prunes the delivery log.
type DataCleanupWorker struct {
	db        *sql.DB
	interval  time.Duration
	retention Retention
	pause     time.Duration
}

// NewDataCleanupWorker creates a cleanup worker. Zero retention fields take
// their DefaultRetention value.
func NewDataCleanupWorker(db *sql.DB, retention Retention) *DataCleanupWorker {
	if retention.Attempts <= 0 {
		retention.Attempts = DefaultRetention.Attempts
	}
	if retention.Drops <= 0 {
		retention.Drops = DefaultRetention.Drops
	}
	return &DataCleanupWorker{
		db:        db,
		interval:  DefaultCleanupInterval,
		retention: retention,
		pause:     100 * time.Millisecond,
	}
}

// Start begins the cleanup loop. It blocks until ctx is cancelled.
func (dc *DataCleanupWorker) Start(ctx context.Context) {
	logger.Info("data cleanup started", "interval", dc.interval.String(), "batch_size", cleanupBatchSize)

	dc.Cleanup(ctx)

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("data cleanup stopping")
			return
		case <-ticker.C:
			dc.Cleanup(ctx)
		}
	}
}

// Cleanup runs one cycle and returns the rows removed per table.
func (dc *DataCleanupWorker) Cleanup(ctx context.Context) map[string]int64 {
	start := time.Now()
	now := start.UTC()

	removed := map[string]int64{
		"delivery_attempts": dc.batchDelete(ctx, "delivery_attempts", `
			DELETE FROM delivery_attempts
			WHERE id IN (
				SELECT id FROM delivery_attempts
				WHERE attempted_at < $2
				LIMIT $1
			)`, now.Add(-dc.retention.Attempts)),
		"notification_drops": dc.batchDelete(ctx, "notification_drops", `
			DELETE FROM notification_drops
			WHERE notification_id IN (
				SELECT notification_id FROM notification_drops
				WHERE dropped_at < $2
				LIMIT $1
			)`, now.Add(-dc.retention.Drops)),
	}

	logger.Info("data cleanup cycle completed",
		"attempts_removed", removed["delivery_attempts"],
		"drops_removed", removed["notification_drops"],
		"duration_ms", time.Since(start).Milliseconds())
	return removed
}

// batchDelete runs query with cleanupBatchSize as $1 and cutoff as $2 until
// no rows are affected, and returns the rows deleted. A missing table is
// logged once and skipped so the worker survives running before migrations.
func (dc *DataCleanupWorker) batchDelete(ctx context.Context, table, query string, cutoff time.Time) int64 {
	var totalDeleted int64

	for {
		if ctx.Err() != nil {
			return totalDeleted
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := dc.db.ExecContext(queryCtx, query, cleanupBatchSize, cutoff)
		cancel()

		if err != nil {
			if isTableNotExistsError(err) {
				logger.Warn("data cleanup: table missing, skipping", "table", table)
				return totalDeleted
			}
			logger.Error("data cleanup: delete failed", "table", table, "error", err)
			return totalDeleted
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			return totalDeleted
		}
		totalDeleted += affected

		select {
		case <-ctx.Done():
			return totalDeleted
		case <-time.After(dc.pause):
		}
	}
}

// isTableNotExistsError reports whether a Postgres error says the relation
// does not exist.
func isTableNotExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")
}
