package dispatch

import (
	"context"

	"github.com/ignite/marketplace-ops/internal/domain"
)

// Message is one rendered notification addressed for one channel.
type Message struct {
	NotificationID string
	EventType      string
	Channel        domain.Channel
	To             string
	Recipient      domain.Recipient
	Subject        string
	Body           string
	Data           map[string]any
}

// Receipt identifies an accepted message at the provider.
type Receipt struct {
	Provider   string
	ProviderID string
}

// Sender hands a message to a delivery provider. A nil error means the
// provider accepted the message.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}
