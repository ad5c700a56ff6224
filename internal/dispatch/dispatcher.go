package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/metrics"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	"github.com/ignite/marketplace-ops/internal/ratelimit"
	"github.com/ignite/marketplace-ops/internal/routing"
	"github.com/ignite/marketplace-ops/internal/templates"
)

// RateLimitPolicy decides what happens to a notification over its event's
// rate limit.
type RateLimitPolicy string

const (
	// RateLimitQueue holds the notification until the window has room.
	RateLimitQueue RateLimitPolicy = "queue"
	// RateLimitDrop drops the notification with reason "rate limited".
	RateLimitDrop RateLimitPolicy = "drop"
)

// RouteResolver looks up the route in effect for an event type.
type RouteResolver interface {
	ResolveRoute(eventType string) (domain.EventRoute, error)
}

// AttemptRecorder persists delivery attempts.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a domain.DeliveryAttempt) error
}

// DropSink receives a report for every notification dropped without
// delivery.
type DropSink interface {
	ReportDrop(ctx context.Context, r domain.DropReport) error
}

// Job is a notification in flight together with its routing state.
type Job struct {
	Notification domain.Notification   `json:"notification"`
	Priority     domain.Priority       `json:"priority"`
	Started      bool                  `json:"started"`
	State        routing.DeliveryState `json:"state"`
	EnqueuedAt   time.Time             `json:"enqueued_at"`
}

// NewJob wraps n for dispatch at the priority of its route.
func NewJob(n domain.Notification, priority domain.Priority) Job {
	return Job{Notification: n, Priority: priority, EnqueuedAt: time.Now().UTC()}
}

// Status is where a job stands after a step.
type Status string

const (
	StatusRequeue   Status = "requeue"
	StatusDelivered Status = "delivered"
	StatusDropped   Status = "dropped"
)

// Outcome is the result of one Step.
type Outcome struct {
	Status Status
	// Job is the updated job to requeue when Status is StatusRequeue.
	Job Job
	// Delay is how long to wait before the next step.
	Delay   time.Duration
	Action  routing.Action
	Attempt *domain.DeliveryAttempt
}

// Deps are the collaborators of a Dispatcher. Limiter, Recorder and
// DropSinks are optional.
type Deps struct {
	Routes          RouteResolver
	Router          *routing.Router
	Limiter         ratelimit.Limiter
	Renderer        *templates.Renderer
	Senders         map[domain.Channel]Sender
	Recorder        AttemptRecorder
	DropSinks       []DropSink
	RateLimitPolicy RateLimitPolicy
}

// Dispatcher runs notifications through their delivery route. It keeps no
// per-notification state; everything lives in the Job.
type Dispatcher struct {
	routes   RouteResolver
	router   *routing.Router
	limiter  ratelimit.Limiter
	renderer *templates.Renderer
	senders  map[domain.Channel]Sender
	recorder AttemptRecorder
	sinks    []DropSink
	policy   RateLimitPolicy
	now      func() time.Time
}

// NewDispatcher creates a dispatcher from d.
func NewDispatcher(d Deps) *Dispatcher {
	if d.Router == nil {
		d.Router = routing.NewRouter(0, 0)
	}
	if d.Renderer == nil {
		d.Renderer, _ = templates.NewRenderer(nil)
	}
	if d.RateLimitPolicy != RateLimitDrop {
		d.RateLimitPolicy = RateLimitQueue
	}
	return &Dispatcher{
		routes:   d.Routes,
		router:   d.Router,
		limiter:  d.Limiter,
		renderer: d.Renderer,
		senders:  d.Senders,
		recorder: d.Recorder,
		sinks:    d.DropSinks,
		policy:   d.RateLimitPolicy,
		now:      time.Now,
	}
}

// Step advances job by one send. The route is resolved fresh on every step
// so admin edits, including disabling an event, apply to notifications
// already in flight. An error is returned only when ctx is done before the
// step starts; the job should then be retried unchanged.
func (d *Dispatcher) Step(ctx context.Context, job Job) (Outcome, error) {
	n := job.Notification

	route, err := d.routes.ResolveRoute(n.EventType)
	if err != nil {
		return d.drop(ctx, job, routing.Drop(err)), nil
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	// Checked on every step: a notification whose event was disabled after
	// it started must not be sent again.
	if !route.Enabled {
		return d.drop(ctx, job, routing.Drop(routing.ErrEventDisabled)), nil
	}

	if !job.Started {
		state, action := d.router.Begin(route)
		if action.Kind == routing.ActionDrop {
			return d.drop(ctx, job, action), nil
		}

		if d.limiter != nil {
			dec, err := d.limiter.Allow(ctx, n.EventType, route.RateLimitPerMinute)
			if err != nil {
				// Admit on limiter failure rather than stall delivery.
				logger.Warn("rate limit check failed", "event_type", n.EventType, "error", err)
			} else if !dec.Allowed {
				metrics.RateLimited.WithLabelValues(n.EventType, string(d.policy)).Inc()
				if d.policy == RateLimitDrop {
					return d.drop(ctx, job, routing.Drop(ErrRateLimited)), nil
				}
				logger.Debug("notification held by rate limit",
					"notification_id", n.ID, "event_type", n.EventType, "retry_after", dec.RetryAfter)
				return Outcome{Status: StatusRequeue, Job: job, Delay: dec.RetryAfter}, nil
			}
		}

		job.Started = true
		job.State = state

		// The limiter slot is spent; hand back the started job so the retry
		// does not take another one.
		if ctx.Err() != nil {
			return Outcome{Status: StatusRequeue, Job: job}, nil
		}
	}

	attempt := d.send(ctx, job)
	if d.recorder != nil {
		if err := d.recorder.RecordAttempt(ctx, attempt); err != nil {
			logger.Error("record delivery attempt", "notification_id", n.ID, "error", err)
		}
	}

	action, state := d.router.NextAction(route, attempt, job.State)
	job.State = state

	out := Outcome{Job: job, Action: action, Attempt: &attempt}
	switch action.Kind {
	case routing.ActionDeliver:
		metrics.NotificationsDelivered.WithLabelValues(n.EventType, string(action.Channel)).Inc()
		logger.Info("notification delivered",
			"notification_id", n.ID, "event_type", n.EventType, "channel", action.Channel, "attempts", state.Sends)
		out.Status = StatusDelivered
		return out, nil
	case routing.ActionDrop:
		dropped := d.drop(ctx, job, action)
		dropped.Attempt = &attempt
		return dropped, nil
	default:
		out.Status = StatusRequeue
		out.Delay = action.Delay
		return out, nil
	}
}

// send renders and sends job on its current channel and returns the
// resulting attempt. It never fails; failures are recorded on the attempt.
func (d *Dispatcher) send(ctx context.Context, job Job) domain.DeliveryAttempt {
	n := job.Notification
	ch := job.State.Channel

	attempt := domain.DeliveryAttempt{
		ID:             uuid.New().String(),
		NotificationID: n.ID,
		EventType:      n.EventType,
		Channel:        ch,
		AttemptNumber:  job.State.Sends + 1,
		AttemptedAt:    d.now().UTC(),
	}

	err := func() error {
		sender, ok := d.senders[ch]
		if !ok || sender == nil {
			return ErrNoSender
		}
		content, err := d.renderer.Render(n, ch)
		if err != nil {
			return &SendError{Code: "render_failed", Err: err}
		}
		msg := Message{
			NotificationID: n.ID,
			EventType:      n.EventType,
			Channel:        ch,
			To:             n.Recipient.Address(ch),
			Recipient:      n.Recipient,
			Subject:        content.Subject,
			Body:           content.Body,
			Data:           n.Data,
		}
		if msg.To == "" {
			return ErrNoAddress
		}

		start := time.Now()
		receipt, err := sender.Send(ctx, msg)
		elapsed := time.Since(start)
		attempt.LatencyMs = elapsed.Milliseconds()
		attempt.Provider = receipt.Provider
		attempt.ProviderID = receipt.ProviderID
		if receipt.Provider != "" {
			metrics.SendDuration.WithLabelValues(receipt.Provider, string(ch)).Observe(elapsed.Seconds())
		}
		return err
	}()

	if err != nil {
		attempt.Outcome = domain.OutcomeFailed
		attempt.ErrorCode = errorCode(err)
		logger.Info("delivery attempt failed",
			"notification_id", n.ID, "event_type", n.EventType, "channel", ch,
			"attempt", attempt.AttemptNumber, "error_code", attempt.ErrorCode, "error", err)
	} else {
		attempt.Outcome = domain.OutcomeDelivered
	}
	metrics.DeliveryAttempts.WithLabelValues(n.EventType, string(ch), string(attempt.Outcome)).Inc()
	return attempt
}

// drop reports a terminal drop to the log and every sink.
func (d *Dispatcher) drop(ctx context.Context, job Job, action routing.Action) Outcome {
	n := job.Notification
	report := domain.DropReport{
		NotificationID: n.ID,
		EventType:      n.EventType,
		Channels:       job.State.Tried,
		Reason:         action.Reason,
		Attempts:       job.State.Sends,
		DroppedAt:      d.now().UTC(),
	}

	metrics.NotificationsDropped.WithLabelValues(n.EventType, dropLabel(action)).Inc()
	logger.Warn("notification dropped",
		"notification_id", n.ID, "event_type", n.EventType,
		"channels", joinChannels(report.Channels), "attempts", report.Attempts, "reason", report.Reason)

	for _, sink := range d.sinks {
		if err := sink.ReportDrop(ctx, report); err != nil {
			logger.Error("report drop", "notification_id", n.ID, "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
	return Outcome{Status: StatusDropped, Job: job, Action: action}
}

// dropLabel keeps the metric label set bounded: unknown event types carry
// the event name in their message.
func dropLabel(a routing.Action) string {
	if strings.HasPrefix(a.Reason, routing.ErrUnknownEventType.Error()) {
		return routing.ErrUnknownEventType.Error()
	}
	return a.Reason
}

func joinChannels(chs []domain.Channel) string {
	parts := make([]string, len(chs))
	for i, c := range chs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ">")
}
