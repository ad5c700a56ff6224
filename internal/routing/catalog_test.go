package routing

import (
	"errors"
	"sync"
	"testing"

	"github.com/ignite/marketplace-ops/internal/domain"
)

func TestDefaultRoutesValid(t *testing.T) {
	c, err := NewCatalog(DefaultRoutes())
	if err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	if c.Len() != len(DefaultRoutes()) {
		t.Errorf("Len = %d, want %d", c.Len(), len(DefaultRoutes()))
	}

	r, err := c.ResolveRoute("otp_send")
	if err != nil {
		t.Fatalf("ResolveRoute: %v", err)
	}
	if r.PrimaryChannel != domain.ChannelSMS || r.ErrorPolicy != domain.PolicyFallback {
		t.Errorf("otp_send = %+v", r)
	}
}

func TestResolveRoute_Unknown(t *testing.T) {
	c, _ := NewCatalog(DefaultRoutes())
	_, err := c.ResolveRoute("no_such_event")
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("err = %v, want ErrUnknownEventType", err)
	}
}

func TestResolveRoute_Deterministic(t *testing.T) {
	c, _ := NewCatalog(DefaultRoutes())
	first, _ := c.ResolveRoute("wallet_deposit")
	for i := 0; i < 50; i++ {
		got, _ := c.ResolveRoute("wallet_deposit")
		if got.PrimaryChannel != first.PrimaryChannel || len(got.FallbackChannels) != len(first.FallbackChannels) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}

	// Callers mutating the result must not affect the snapshot.
	first.FallbackChannels[0] = domain.ChannelInApp
	again, _ := c.ResolveRoute("wallet_deposit")
	if again.FallbackChannels[0] == domain.ChannelInApp {
		t.Error("catalog snapshot was mutated through a resolved route")
	}
}

func TestNewCatalog_Rejects(t *testing.T) {
	valid := domain.EventRoute{
		EventType: "x", Category: domain.CategoryAuth, Enabled: true, Priority: domain.PriorityLow,
		PrimaryChannel: domain.ChannelSMS, RateLimitPerMinute: 10, ErrorPolicy: domain.PolicyRetry,
	}

	tests := []struct {
		name   string
		mutate func(*domain.EventRoute)
	}{
		{"primary in fallbacks", func(r *domain.EventRoute) { r.FallbackChannels = []domain.Channel{domain.ChannelSMS} }},
		{"duplicate fallback", func(r *domain.EventRoute) {
			r.FallbackChannels = []domain.Channel{domain.ChannelPush, domain.ChannelPush}
		}},
		{"unknown channel", func(r *domain.EventRoute) { r.PrimaryChannel = "fax" }},
		{"zero rate limit", func(r *domain.EventRoute) { r.RateLimitPerMinute = 0 }},
		{"negative retries", func(r *domain.EventRoute) { r.MaxRetries = -1 }},
		{"unknown policy", func(r *domain.EventRoute) { r.ErrorPolicy = "ignore" }},
		{"unknown category", func(r *domain.EventRoute) { r.Category = "marketing" }},
		{"blank event type", func(r *domain.EventRoute) { r.EventType = " " }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			if _, err := NewCatalog([]domain.EventRoute{r}); !errors.Is(err, domain.ErrInvalidRoute) {
				t.Errorf("err = %v, want ErrInvalidRoute", err)
			}
		})
	}

	if _, err := NewCatalog([]domain.EventRoute{valid, valid}); !errors.Is(err, domain.ErrInvalidRoute) {
		t.Errorf("duplicate event type: err = %v, want ErrInvalidRoute", err)
	}
}

func TestRoutesOrdered(t *testing.T) {
	c, _ := NewCatalog(DefaultRoutes())
	routes := c.Routes()
	for i := 1; i < len(routes); i++ {
		a, b := routes[i-1], routes[i]
		if a.Category > b.Category || (a.Category == b.Category && a.EventType > b.EventType) {
			t.Errorf("routes out of order at %d: %s/%s before %s/%s", i, a.Category, a.EventType, b.Category, b.EventType)
		}
	}
}

func TestRegistryPublish(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.ResolveRoute("otp_send"); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("empty registry: err = %v", err)
	}

	c, _ := NewCatalog(DefaultRoutes())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = reg.Current().Len()
			}
		}()
	}
	reg.Publish(c)
	wg.Wait()

	if _, err := reg.ResolveRoute("otp_send"); err != nil {
		t.Errorf("after publish: %v", err)
	}
}
