package eventroutes_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/pkg/distlock"
	"github.com/ignite/marketplace-ops/internal/routing"
	"github.com/ignite/marketplace-ops/internal/service/eventroutes"
	"github.com/ignite/marketplace-ops/internal/storage"
)

// memRepo is an in-memory route repository for unit testing.
type memRepo struct {
	mu     sync.Mutex
	routes map[string]domain.EventRoute
}

func newMemRepo() *memRepo {
	return &memRepo{routes: make(map[string]domain.EventRoute)}
}

func (m *memRepo) List(_ context.Context) ([]domain.EventRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventRoute, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out, nil
}

func (m *memRepo) Get(_ context.Context, eventType string) (*domain.EventRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[eventType]
	if !ok {
		return nil, eventroutes.ErrNotFound
	}
	return &r, nil
}

func (m *memRepo) Upsert(_ context.Context, r *domain.EventRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.EventType] = *r
	return nil
}

func (m *memRepo) SetEnabled(_ context.Context, eventType string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[eventType]
	if !ok {
		return eventroutes.ErrNotFound
	}
	r.Enabled = enabled
	m.routes[eventType] = r
	return nil
}

func (m *memRepo) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.routes), nil
}

type memStore struct {
	mu    sync.Mutex
	saved [][]domain.EventRoute
	err   error
}

func (s *memStore) SaveCatalog(_ context.Context, routes []domain.EventRoute, savedBy string) (*storage.CatalogSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.saved = append(s.saved, routes)
	return &storage.CatalogSnapshot{Routes: routes, SavedBy: savedBy}, nil
}

type countingLock struct {
	acquired, released int
	err                error
}

func (l *countingLock) Acquire(context.Context) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.acquired++
	return true, nil
}

func (l *countingLock) Release(context.Context) error {
	l.released++
	return nil
}

func newService(t *testing.T) (*eventroutes.Service, *memRepo, *memStore, *routing.Registry) {
	t.Helper()
	repo := newMemRepo()
	store := &memStore{}
	reg := routing.NewRegistry(nil)
	svc := eventroutes.NewService(repo, reg, eventroutes.Options{Store: store})
	return svc, repo, store, reg
}

func TestSeed(t *testing.T) {
	svc, repo, store, reg := newService(t)
	ctx := context.Background()

	n, err := svc.Seed(ctx, routing.DefaultRoutes())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != len(routing.DefaultRoutes()) {
		t.Errorf("seeded %d routes, want %d", n, len(routing.DefaultRoutes()))
	}
	if got, _ := repo.Count(ctx); got != n {
		t.Errorf("repo holds %d routes, want %d", got, n)
	}
	if reg.Current().Len() != n {
		t.Errorf("registry holds %d routes, want %d", reg.Current().Len(), n)
	}
	if len(store.saved) != 1 {
		t.Errorf("archived %d snapshots, want 1", len(store.saved))
	}

	// Second seed only loads.
	n, err = svc.Seed(ctx, routing.DefaultRoutes()[:1])
	if err != nil || n != 0 {
		t.Fatalf("reseed: n=%d err=%v", n, err)
	}
	if len(store.saved) != 1 {
		t.Errorf("reseed archived a snapshot")
	}
}

func TestSeedRejectsInvalidCatalog(t *testing.T) {
	svc, repo, _, _ := newService(t)
	routes := routing.DefaultRoutes()
	routes = append(routes, routes[0])

	if _, err := svc.Seed(context.Background(), routes); !errors.Is(err, domain.ErrInvalidRoute) {
		t.Fatalf("err = %v, want ErrInvalidRoute", err)
	}
	if n, _ := repo.Count(context.Background()); n != 0 {
		t.Errorf("%d routes written from an invalid catalog", n)
	}
}

func TestUpsert(t *testing.T) {
	svc, _, store, reg := newService(t)
	ctx := context.Background()
	if _, err := svc.Seed(ctx, routing.DefaultRoutes()); err != nil {
		t.Fatal(err)
	}

	route, _ := reg.ResolveRoute("otp_send")
	route.MaxRetries = 5
	route.ErrorPolicy = domain.PolicyRetry

	saved, err := svc.Upsert(ctx, route, "ops@example.com")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	live, _ := reg.ResolveRoute("otp_send")
	if live.MaxRetries != 5 || live.ErrorPolicy != domain.PolicyRetry {
		t.Errorf("registry not republished: %+v", live)
	}
	if len(store.saved) != 2 {
		t.Errorf("archived %d snapshots, want 2", len(store.saved))
	}

	bad := route
	bad.FallbackChannels = []domain.Channel{route.PrimaryChannel}
	if _, err := svc.Upsert(ctx, bad, ""); !errors.Is(err, domain.ErrInvalidRoute) {
		t.Errorf("err = %v, want ErrInvalidRoute", err)
	}
}

func TestSetEnabled(t *testing.T) {
	svc, _, _, reg := newService(t)
	ctx := context.Background()
	if _, err := svc.Seed(ctx, routing.DefaultRoutes()); err != nil {
		t.Fatal(err)
	}

	got, err := svc.SetEnabled(ctx, "welcome", false, "ops")
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if got.Enabled {
		t.Error("returned route still enabled")
	}
	if r, _ := reg.ResolveRoute("welcome"); r.Enabled {
		t.Error("registry still has welcome enabled")
	}

	if _, err := svc.SetEnabled(ctx, "no_such_event", true, "ops"); !errors.Is(err, eventroutes.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReloadArchiveFailureKeepsCatalogLive(t *testing.T) {
	svc, _, store, reg := newService(t)
	ctx := context.Background()
	if _, err := svc.Seed(ctx, routing.DefaultRoutes()); err != nil {
		t.Fatal(err)
	}
	store.err = errors.New("s3 unavailable")

	if _, err := svc.SetEnabled(ctx, "welcome", false, "ops"); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if r, _ := reg.ResolveRoute("welcome"); r.Enabled {
		t.Error("catalog not published when archiving failed")
	}
}

func TestReloadUsesLock(t *testing.T) {
	repo := newMemRepo()
	lock := &countingLock{}
	svc := eventroutes.NewService(repo, routing.NewRegistry(nil), eventroutes.Options{
		NewLock: func() distlock.DistLock { return lock },
	})
	ctx := context.Background()

	if _, err := svc.Seed(ctx, routing.DefaultRoutes()); err != nil {
		t.Fatal(err)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Errorf("acquired=%d released=%d, want 1/1", lock.acquired, lock.released)
	}

	lock.err = errors.New("redis down")
	if _, err := svc.Reload(ctx, "ops"); err == nil {
		t.Error("Reload should fail when the lock errors")
	}
}

func TestSimulate(t *testing.T) {
	svc, _, _, _ := newService(t)
	if _, err := svc.Seed(context.Background(), routing.DefaultRoutes()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		event       string
		input       eventroutes.SimulateInput
		wantKind    routing.ActionKind
		wantChannel domain.Channel
		wantReason  string
	}{
		{
			name:        "otp primary fails",
			event:       "otp_send",
			input:       eventroutes.SimulateInput{Outcome: domain.OutcomeFailed},
			wantKind:    routing.ActionFallback,
			wantChannel: domain.ChannelPush,
		},
		{
			name:  "otp last fallback fails",
			event: "otp_send",
			input: eventroutes.SimulateInput{
				Outcome: domain.OutcomeFailed,
				State: routing.DeliveryState{
					Channel: domain.ChannelEmail, Sends: 2,
					Tried: []domain.Channel{domain.ChannelSMS, domain.ChannelPush, domain.ChannelEmail},
				},
			},
			wantKind:   routing.ActionDrop,
			wantReason: "fallback exhausted",
		},
		{
			name:        "delivered",
			event:       "password_reset",
			input:       eventroutes.SimulateInput{Outcome: domain.OutcomeDelivered},
			wantKind:    routing.ActionDeliver,
			wantChannel: domain.ChannelEmail,
		},
		{
			name:       "disabled event",
			event:      "low_balance",
			input:      eventroutes.SimulateInput{Outcome: domain.OutcomeFailed},
			wantKind:   routing.ActionDrop,
			wantReason: "event disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Simulate(tt.event, tt.input)
			if err != nil {
				t.Fatalf("Simulate: %v", err)
			}
			if res.Action.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", res.Action.Kind, tt.wantKind)
			}
			if tt.wantChannel != "" && res.Action.Channel != tt.wantChannel {
				t.Errorf("channel = %s, want %s", res.Action.Channel, tt.wantChannel)
			}
			if res.Action.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Action.Reason, tt.wantReason)
			}
		})
	}

	if _, err := svc.Simulate("no_such_event", eventroutes.SimulateInput{}); !errors.Is(err, routing.ErrUnknownEventType) {
		t.Errorf("err = %v, want ErrUnknownEventType", err)
	}
}

func TestUpsertWritesNothingWithoutLock(t *testing.T) {
	repo := newMemRepo()
	lock := &countingLock{}
	svc := eventroutes.NewService(repo, routing.NewRegistry(nil), eventroutes.Options{
		NewLock: func() distlock.DistLock { return lock },
	})
	ctx := context.Background()
	if _, err := svc.Seed(ctx, routing.DefaultRoutes()); err != nil {
		t.Fatal(err)
	}

	lock.err = errors.New("redis down")
	r, _ := repo.Get(ctx, "welcome")
	r.MaxRetries = 5
	if _, err := svc.Upsert(ctx, *r, "ops"); err == nil {
		t.Fatal("Upsert should fail when the lock errors")
	}
	if stored, _ := repo.Get(ctx, "welcome"); stored.MaxRetries == 5 {
		t.Error("route written without holding the publish lock")
	}
}
