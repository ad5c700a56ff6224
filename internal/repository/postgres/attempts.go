package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/lib/pq"
)

// DeliveryRepo records delivery attempts and drops. It satisfies
// dispatch.AttemptRecorder and dispatch.DropSink.
type DeliveryRepo struct{ db *sql.DB }

// NewDeliveryRepo creates a Postgres-backed delivery log.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

func (r *DeliveryRepo) RecordAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts
			(id, notification_id, event_type, channel, attempt_number, outcome,
			 error_code, provider, provider_message_id, latency_ms, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10, $11)
	`, a.ID, a.NotificationID, a.EventType, a.Channel, a.AttemptNumber, a.Outcome,
		a.ErrorCode, a.Provider, a.ProviderID, a.LatencyMs, a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempts of one notification in send order.
func (r *DeliveryRepo) ListAttempts(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, notification_id, event_type, channel, attempt_number, outcome,
		       COALESCE(error_code,''), COALESCE(provider,''), COALESCE(provider_message_id,''),
		       latency_ms, attempted_at
		FROM delivery_attempts
		WHERE notification_id = $1
		ORDER BY attempt_number
	`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.NotificationID, &a.EventType, &a.Channel, &a.AttemptNumber,
			&a.Outcome, &a.ErrorCode, &a.Provider, &a.ProviderID, &a.LatencyMs, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *DeliveryRepo) ReportDrop(ctx context.Context, d domain.DropReport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_drops
			(notification_id, event_type, channels, reason, attempts, dropped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (notification_id) DO NOTHING
	`, d.NotificationID, d.EventType, pq.Array(channelStrings(d.Channels)), d.Reason, d.Attempts, d.DroppedAt)
	if err != nil {
		return fmt.Errorf("report drop: %w", err)
	}
	return nil
}

// GetDrop returns the drop report of a notification, or nil if it was not
// dropped.
func (r *DeliveryRepo) GetDrop(ctx context.Context, notificationID string) (*domain.DropReport, error) {
	var (
		d        domain.DropReport
		channels []string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT notification_id, event_type, channels, reason, attempts, dropped_at
		FROM notification_drops WHERE notification_id = $1
	`, notificationID).Scan(&d.NotificationID, &d.EventType, pq.Array(&channels), &d.Reason, &d.Attempts, &d.DroppedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get drop: %w", err)
	}
	d.Channels = make([]domain.Channel, len(channels))
	for i, ch := range channels {
		d.Channels[i] = domain.Channel(ch)
	}
	return &d, nil
}
