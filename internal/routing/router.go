package routing

import (
	"slices"
	"time"

	"github.com/ignite/marketplace-ops/internal/domain"
)

// ActionKind tags the variant carried by an Action.
type ActionKind string

const (
	// ActionSend starts delivery on Channel. Only produced by Begin.
	ActionSend ActionKind = "send"
	// ActionRetry resends on the same channel after Delay.
	ActionRetry ActionKind = "retry"
	// ActionFallback sends on the next fallback Channel.
	ActionFallback ActionKind = "fallback"
	// ActionDrop terminates without delivery.
	ActionDrop ActionKind = "drop"
	// ActionDeliver terminates with delivery.
	ActionDeliver ActionKind = "deliver"
)

// Action is the router's decision after an event or a send attempt.
type Action struct {
	Kind    ActionKind     `json:"kind"`
	Channel domain.Channel `json:"channel,omitempty"`
	Delay   time.Duration  `json:"delay,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Err     error          `json:"-"`
}

// IsTerminal reports whether no further send follows this action.
func (a Action) IsTerminal() bool {
	return a.Kind == ActionDrop || a.Kind == ActionDeliver
}

// Send starts delivery on ch.
func Send(ch domain.Channel) Action { return Action{Kind: ActionSend, Channel: ch} }

// Retry resends on ch after delay.
func Retry(ch domain.Channel, delay time.Duration) Action {
	return Action{Kind: ActionRetry, Channel: ch, Delay: delay}
}

// Fallback sends on ch.
func Fallback(ch domain.Channel) Action { return Action{Kind: ActionFallback, Channel: ch} }

// Deliver marks the notification delivered on ch.
func Deliver(ch domain.Channel) Action { return Action{Kind: ActionDeliver, Channel: ch} }

// Drop terminates delivery. The reason is the cause's message.
func Drop(cause error) Action {
	return Action{Kind: ActionDrop, Reason: cause.Error(), Err: cause}
}

// DeliveryState is everything the router knows about one notification. It
// is owned by the caller and passed back in on every decision.
type DeliveryState struct {
	// Channel is the channel the next or latest send uses.
	Channel domain.Channel `json:"channel"`
	// Retries counts retries produced so far under the retry policy.
	Retries int `json:"retries"`
	// Sends counts send attempts made so far across all channels.
	Sends int `json:"sends"`
	// Tried lists channels in the order they were first used.
	Tried []domain.Channel `json:"tried"`
}

// Router decides the next action of a notification. It is stateless and
// safe for concurrent use.
type Router struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// Default retry backoff bounds.
const (
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
)

// NewRouter creates a router whose retry delay starts at base and doubles
// per retry up to max. Non-positive values select the defaults.
func NewRouter(base, max time.Duration) *Router {
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	if max <= 0 {
		max = DefaultRetryMaxDelay
	}
	if max < base {
		max = base
	}
	return &Router{baseDelay: base, maxDelay: max}
}

// Begin returns the initial state and action for a new notification. A
// disabled route drops before any send is attempted.
func (r *Router) Begin(route domain.EventRoute) (DeliveryState, Action) {
	if !route.Enabled {
		return DeliveryState{}, Drop(ErrEventDisabled)
	}
	state := DeliveryState{
		Channel: route.PrimaryChannel,
		Tried:   []domain.Channel{route.PrimaryChannel},
	}
	return state, Send(route.PrimaryChannel)
}

// NextAction decides what follows attempt. The returned state replaces
// state; the input is not modified.
func (r *Router) NextAction(route domain.EventRoute, attempt domain.DeliveryAttempt, state DeliveryState) (Action, DeliveryState) {
	next := state
	next.Tried = slices.Clone(state.Tried)
	next.Sends++
	if attempt.Channel != "" {
		next.Channel = attempt.Channel
	}

	if !attempt.Failed() {
		return Deliver(next.Channel), next
	}
	if !route.Enabled {
		return Drop(ErrEventDisabled), next
	}

	switch route.ErrorPolicy {
	case domain.PolicyRetry:
		if next.Retries < route.MaxRetries {
			delay := r.backoff(next.Retries)
			next.Retries++
			return Retry(next.Channel, delay), next
		}
		return Drop(ErrRetriesExhausted), next

	case domain.PolicyFallback:
		for _, ch := range route.FallbackChannels {
			if ch == route.PrimaryChannel || slices.Contains(next.Tried, ch) {
				continue
			}
			next.Channel = ch
			next.Tried = append(next.Tried, ch)
			return Fallback(ch), next
		}
		return Drop(ErrFallbackExhausted), next

	default:
		return Drop(ErrPolicyDrop), next
	}
}

// backoff returns base * 2^retries, capped at the max delay.
func (r *Router) backoff(retries int) time.Duration {
	d := r.baseDelay
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= r.maxDelay {
			return r.maxDelay
		}
	}
	return d
}
