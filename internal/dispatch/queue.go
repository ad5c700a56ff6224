package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/marketplace-ops/internal/domain"
)

// SQSAPI is the subset of the SQS client used for publishing.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueSender delivers push and in-app notifications by publishing them to
// the SQS queue the mobile gateway consumes, one queue per channel.
type QueueSender struct {
	client   SQSAPI
	queueURL string
	provider string
}

// NewQueueSender publishes to queueURL. provider names the downstream
// consumer on recorded attempts, e.g. "fcm-gateway" or "inbox".
func NewQueueSender(client SQSAPI, queueURL, provider string) *QueueSender {
	return &QueueSender{client: client, queueURL: queueURL, provider: provider}
}

type queuedNotification struct {
	NotificationID string         `json:"notification_id"`
	EventType      string         `json:"event_type"`
	Channel        domain.Channel `json:"channel"`
	UserID         string         `json:"user_id"`
	DeviceToken    string         `json:"device_token,omitempty"`
	Title          string         `json:"title,omitempty"`
	Body           string         `json:"body"`
	Data           map[string]any `json:"data,omitempty"`
	QueuedAt       time.Time      `json:"queued_at"`
}

// Send publishes msg and returns the SQS message ID.
func (q *QueueSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, ErrNoAddress
	}

	body, err := json.Marshal(queuedNotification{
		NotificationID: msg.NotificationID,
		EventType:      msg.EventType,
		Channel:        msg.Channel,
		UserID:         msg.Recipient.UserID,
		DeviceToken:    msg.Recipient.DeviceToken,
		Title:          msg.Subject,
		Body:           msg.Body,
		Data:           msg.Data,
		QueuedAt:       time.Now().UTC(),
	})
	if err != nil {
		return Receipt{}, &SendError{Code: "encode_failed", Err: err}
	}

	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(msg.EventType)},
			"channel":    {DataType: aws.String("String"), StringValue: aws.String(string(msg.Channel))},
		},
	})
	if err != nil {
		return Receipt{}, &SendError{Code: awsErrorCode(err, "sqs_error"), Err: fmt.Errorf("publish to %s: %w", q.provider, err)}
	}

	return Receipt{Provider: q.provider, ProviderID: aws.ToString(out.MessageId)}, nil
}
