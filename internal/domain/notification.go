package domain

import "time"

// Outcome is the result of a single send attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Recipient holds the addresses a notification can be delivered to. Which
// field is used depends on the channel.
type Recipient struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

// Address returns the destination for the given channel, or "" when the
// recipient has none. In-app notifications are addressed by user ID.
func (r Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.Phone
	case ChannelPush:
		return r.DeviceToken
	case ChannelInApp:
		return r.UserID
	}
	return ""
}

// Notification is one instance of a system event to be delivered.
type Notification struct {
	ID        string         `json:"id" db:"id"`
	EventType string         `json:"event_type" db:"event_type"`
	Recipient Recipient      `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// DeliveryAttempt records one send of a notification over one channel.
// AttemptNumber starts at 1 and counts every send of the notification.
type DeliveryAttempt struct {
	ID             string    `json:"id" db:"id"`
	NotificationID string    `json:"notification_id" db:"notification_id"`
	EventType      string    `json:"event_type" db:"event_type"`
	Channel        Channel   `json:"channel" db:"channel"`
	AttemptNumber  int       `json:"attempt_number" db:"attempt_number"`
	Outcome        Outcome   `json:"outcome" db:"outcome"`
	ErrorCode      string    `json:"error_code,omitempty" db:"error_code"`
	Provider       string    `json:"provider,omitempty" db:"provider"`
	ProviderID     string    `json:"provider_message_id,omitempty" db:"provider_message_id"`
	LatencyMs      int64     `json:"latency_ms" db:"latency_ms"`
	AttemptedAt    time.Time `json:"attempted_at" db:"attempted_at"`
}

// Failed reports whether the attempt did not deliver.
func (a DeliveryAttempt) Failed() bool {
	return a.Outcome != OutcomeDelivered
}

// DropReport is emitted once for every notification that terminates without
// delivery.
type DropReport struct {
	NotificationID string    `json:"notification_id" db:"notification_id"`
	EventType      string    `json:"event_type" db:"event_type"`
	Channels       []Channel `json:"channels" db:"channels"`
	Reason         string    `json:"reason" db:"reason"`
	Attempts       int       `json:"attempts" db:"attempts"`
	DroppedAt      time.Time `json:"dropped_at" db:"dropped_at"`
}
