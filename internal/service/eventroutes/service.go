package eventroutes

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/pkg/distlock"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	"github.com/ignite/marketplace-ops/internal/routing"
)

// publishLockWait bounds how long a publisher waits for another instance.
const publishLockWait = 5 * time.Second

// Options are the optional collaborators of a Service.
type Options struct {
	// Store archives every published catalog. Nil disables archiving.
	Store CatalogStore
	// NewLock returns the lock serializing publication across instances.
	// Nil publishes without a lock.
	NewLock func() distlock.DistLock
	// Router answers transition simulations. Nil uses default backoff.
	Router *routing.Router
}

// Service implements route administration. It is safe for concurrent use.
type Service struct {
	repo     Repository
	registry *routing.Registry
	store    CatalogStore
	newLock  func() distlock.DistLock
	router   *routing.Router
}

// NewService creates a route service publishing to registry.
func NewService(repo Repository, registry *routing.Registry, opts Options) *Service {
	if opts.Router == nil {
		opts.Router = routing.NewRouter(0, 0)
	}
	return &Service{
		repo:     repo,
		registry: registry,
		store:    opts.Store,
		newLock:  opts.NewLock,
		router:   opts.Router,
	}
}

// List returns every stored route, sorted by category then event type.
func (s *Service) List(ctx context.Context) ([]domain.EventRoute, error) {
	routes, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	c, err := routing.NewCatalog(routes)
	if err != nil {
		// Stored data predates validation; return it as stored.
		logger.Warn("stored routes fail validation", "error", err)
		return routes, nil
	}
	return c.Routes(), nil
}

// Get returns one route.
func (s *Service) Get(ctx context.Context, eventType string) (*domain.EventRoute, error) {
	return s.repo.Get(ctx, eventType)
}

// Resolve returns the route currently published for eventType.
func (s *Service) Resolve(eventType string) (domain.EventRoute, error) {
	return s.registry.ResolveRoute(eventType)
}

// Upsert validates and stores r, then republishes the catalog.
func (s *Service) Upsert(ctx context.Context, r domain.EventRoute, actor string) (*domain.EventRoute, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()
	_, err := s.publish(ctx, actor, func(ctx context.Context) error {
		if err := s.repo.Upsert(ctx, &r); err != nil {
			return fmt.Errorf("upsert route: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("event route saved", "event_type", r.EventType, "enabled", r.Enabled,
		"policy", r.ErrorPolicy, "actor", actor)
	return &r, nil
}

// SetEnabled turns an event on or off and republishes the catalog.
// Notifications already queued for a disabled event are dropped at their
// next step.
func (s *Service) SetEnabled(ctx context.Context, eventType string, enabled bool, actor string) (*domain.EventRoute, error) {
	_, err := s.publish(ctx, actor, func(ctx context.Context) error {
		return s.repo.SetEnabled(ctx, eventType, enabled)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("event route toggled", "event_type", eventType, "enabled", enabled, "actor", actor)
	return s.repo.Get(ctx, eventType)
}

// Seed stores routes when the repository is empty and publishes them. It
// returns how many routes were written; an already populated repository is
// only loaded.
func (s *Service) Seed(ctx context.Context, routes []domain.EventRoute) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count routes: %w", err)
	}
	if n > 0 {
		_, err := s.Refresh(ctx)
		return 0, err
	}

	// Validates every route and rejects duplicates before anything is written.
	c, err := routing.NewCatalog(routes)
	if err != nil {
		return 0, err
	}
	written := 0
	_, err = s.publish(ctx, "seed", func(ctx context.Context) error {
		// Another instance may have seeded while this one waited for the lock.
		if n, err := s.repo.Count(ctx); err != nil || n > 0 {
			return err
		}
		now := time.Now().UTC()
		for _, r := range c.Routes() {
			r.UpdatedAt = now
			if err := s.repo.Upsert(ctx, &r); err != nil {
				return fmt.Errorf("seed route %s: %w", r.EventType, err)
			}
		}
		written = c.Len()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if written > 0 {
		logger.Info("event routes seeded", "count", written)
	}
	return written, nil
}

// Refresh rebuilds the catalog from the repository and publishes it
// in-process without archiving.
func (s *Service) Refresh(ctx context.Context) (*routing.Catalog, error) {
	routes, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	c, err := routing.NewCatalog(routes)
	if err != nil {
		return nil, err
	}
	s.registry.Publish(c)
	return c, nil
}

// Reload refreshes the catalog and archives a snapshot, serialized across
// instances by the publish lock.
func (s *Service) Reload(ctx context.Context, actor string) (*routing.Catalog, error) {
	return s.publish(ctx, actor, nil)
}

// publish runs write, if any, then refreshes and archives the catalog, all
// under the publish lock. When the lock cannot be had nothing is written.
func (s *Service) publish(ctx context.Context, actor string, write func(ctx context.Context) error) (*routing.Catalog, error) {
	var c *routing.Catalog
	run := func(ctx context.Context) error {
		if write != nil {
			if err := write(ctx); err != nil {
				return err
			}
		}
		var err error
		c, err = s.Refresh(ctx)
		if err != nil {
			return err
		}
		if s.store != nil {
			if _, err := s.store.SaveCatalog(ctx, c.Routes(), actor); err != nil {
				// The catalog is live; only the archive copy is missing.
				logger.Error("archive catalog snapshot", "error", err)
			}
		}
		return nil
	}

	var err error
	if s.newLock == nil {
		err = run(ctx)
	} else {
		err = distlock.WithLock(ctx, s.newLock(), publishLockWait, run)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Watch refreshes the catalog every interval until ctx is done, so a
// process that does not serve admin edits still follows them.
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Error("refresh event routes", "error", err)
			}
		}
	}
}

// Simulate runs one router transition for eventType against the published
// route: the outcome of a send on state.Channel fed to NextAction.
func (s *Service) Simulate(eventType string, input SimulateInput) (SimulateResult, error) {
	route, err := s.registry.ResolveRoute(eventType)
	if err != nil {
		return SimulateResult{}, err
	}

	state := input.State
	if len(state.Tried) == 0 {
		var begin routing.Action
		state, begin = s.router.Begin(route)
		if begin.Kind == routing.ActionDrop {
			return SimulateResult{Action: begin, State: state}, nil
		}
	}

	attempt := domain.DeliveryAttempt{
		EventType:     eventType,
		Channel:       state.Channel,
		AttemptNumber: state.Sends + 1,
		Outcome:       input.Outcome,
		ErrorCode:     input.ErrorCode,
	}
	action, next := s.router.NextAction(route, attempt, state)
	return SimulateResult{Action: action, State: next}, nil
}

// SimulateInput is a hypothetical send outcome. An empty State starts a
// new notification on the primary channel.
type SimulateInput struct {
	Outcome   domain.Outcome        `json:"outcome"`
	ErrorCode string                `json:"error_code,omitempty"`
	State     routing.DeliveryState `json:"state"`
}

// SimulateResult is the router's answer.
type SimulateResult struct {
	Action routing.Action        `json:"action"`
	State  routing.DeliveryState `json:"state"`
}
