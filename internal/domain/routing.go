package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRoute is returned when an event route fails validation.
var ErrInvalidRoute = errors.New("invalid event route")

// Channel is a notification delivery medium.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in-app"
)

// Channels lists every supported channel.
var Channels = []Channel{ChannelPush, ChannelSMS, ChannelEmail, ChannelInApp}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelSMS, ChannelEmail, ChannelInApp:
		return true
	}
	return false
}

// EventCategory groups system events on the admin dashboard.
type EventCategory string

const (
	CategoryAuth     EventCategory = "auth"
	CategoryListings EventCategory = "listings"
	CategoryWallet   EventCategory = "wallet"
	CategoryKYC      EventCategory = "kyc"
	CategoryDisputes EventCategory = "disputes"
	CategorySecurity EventCategory = "security"
)

// Valid reports whether c is a known category.
func (c EventCategory) Valid() bool {
	switch c {
	case CategoryAuth, CategoryListings, CategoryWallet, CategoryKYC, CategoryDisputes, CategorySecurity:
		return true
	}
	return false
}

// Priority orders notifications against each other at admission time. It
// never changes the retry/fallback logic of a single notification.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns 0 for high, 1 for medium and 2 for low. Lower ranks are
// admitted first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// ErrorPolicy governs what happens after a failed delivery attempt.
type ErrorPolicy string

const (
	PolicyRetry    ErrorPolicy = "retry"
	PolicyFallback ErrorPolicy = "fallback"
	PolicyDrop     ErrorPolicy = "drop"
)

// Valid reports whether p is a known policy.
func (p ErrorPolicy) Valid() bool {
	switch p {
	case PolicyRetry, PolicyFallback, PolicyDrop:
		return true
	}
	return false
}

// EventRoute is the delivery configuration for one system event type. It is
// configured by an admin and read on every triggering event.
type EventRoute struct {
	EventType          string        `json:"event_type" yaml:"event_type" db:"event_type"`
	Description        string        `json:"description,omitempty" yaml:"description" db:"description"`
	Category           EventCategory `json:"category" yaml:"category" db:"category"`
	Enabled            bool          `json:"enabled" yaml:"enabled" db:"enabled"`
	Priority           Priority      `json:"priority" yaml:"priority" db:"priority"`
	PrimaryChannel     Channel       `json:"primary_channel" yaml:"primary_channel" db:"primary_channel"`
	FallbackChannels   []Channel     `json:"fallback_channels" yaml:"fallback_channels" db:"fallback_channels"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" db:"rate_limit_per_minute"`
	MaxRetries         int           `json:"max_retries" yaml:"max_retries" db:"max_retries"`
	ErrorPolicy        ErrorPolicy   `json:"error_policy" yaml:"error_policy" db:"error_policy"`
	UpdatedAt          time.Time     `json:"updated_at,omitempty" yaml:"-" db:"updated_at"`
}

// Validate checks the closed enums, the numeric bounds and that the primary
// channel is not repeated in the fallback chain.
func (r EventRoute) Validate() error {
	var problems []string

	if strings.TrimSpace(r.EventType) == "" {
		problems = append(problems, "event type is required")
	}
	if !r.Category.Valid() {
		problems = append(problems, fmt.Sprintf("unknown category %q", r.Category))
	}
	if !r.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("unknown priority %q", r.Priority))
	}
	if !r.PrimaryChannel.Valid() {
		problems = append(problems, fmt.Sprintf("unknown primary channel %q", r.PrimaryChannel))
	}
	seen := map[Channel]bool{r.PrimaryChannel: true}
	for _, ch := range r.FallbackChannels {
		switch {
		case !ch.Valid():
			problems = append(problems, fmt.Sprintf("unknown fallback channel %q", ch))
		case ch == r.PrimaryChannel:
			problems = append(problems, fmt.Sprintf("primary channel %q repeated in fallbacks", ch))
		case seen[ch]:
			problems = append(problems, fmt.Sprintf("duplicate fallback channel %q", ch))
		}
		seen[ch] = true
	}
	if r.RateLimitPerMinute <= 0 {
		problems = append(problems, "rate limit per minute must be positive")
	}
	if r.MaxRetries < 0 {
		problems = append(problems, "max retries must not be negative")
	}
	if !r.ErrorPolicy.Valid() {
		problems = append(problems, fmt.Sprintf("unknown error policy %q", r.ErrorPolicy))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidRoute, r.EventType, strings.Join(problems, "; "))
	}
	return nil
}

// Chain returns the primary channel followed by the fallbacks.
func (r EventRoute) Chain() []Channel {
	chain := make([]Channel, 0, 1+len(r.FallbackChannels))
	chain = append(chain, r.PrimaryChannel)
	return append(chain, r.FallbackChannels...)
}
