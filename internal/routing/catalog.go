package routing

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ignite/marketplace-ops/internal/domain"
)

// Catalog is an immutable, validated snapshot of event routes keyed by
// event type.
type Catalog struct {
	byType   map[string]domain.EventRoute
	ordered  []domain.EventRoute
	loadedAt time.Time
}

// NewCatalog validates every route and builds a snapshot. Duplicate event
// types are rejected.
func NewCatalog(routes []domain.EventRoute) (*Catalog, error) {
	c := &Catalog{
		byType:   make(map[string]domain.EventRoute, len(routes)),
		ordered:  make([]domain.EventRoute, 0, len(routes)),
		loadedAt: time.Now().UTC(),
	}
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byType[r.EventType]; dup {
			return nil, fmt.Errorf("%w %q: duplicate event type", domain.ErrInvalidRoute, r.EventType)
		}
		r.FallbackChannels = slices.Clone(r.FallbackChannels)
		c.byType[r.EventType] = r
		c.ordered = append(c.ordered, r)
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		if c.ordered[i].Category != c.ordered[j].Category {
			return c.ordered[i].Category < c.ordered[j].Category
		}
		return c.ordered[i].EventType < c.ordered[j].EventType
	})
	return c, nil
}

// ResolveRoute returns the route for eventType, or ErrUnknownEventType.
func (c *Catalog) ResolveRoute(eventType string) (domain.EventRoute, error) {
	r, ok := c.byType[eventType]
	if !ok {
		return domain.EventRoute{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	r.FallbackChannels = slices.Clone(r.FallbackChannels)
	return r, nil
}

// Routes returns every route ordered by category, then event type.
func (c *Catalog) Routes() []domain.EventRoute {
	out := make([]domain.EventRoute, len(c.ordered))
	for i, r := range c.ordered {
		r.FallbackChannels = slices.Clone(r.FallbackChannels)
		out[i] = r
	}
	return out
}

// Len returns the number of routes.
func (c *Catalog) Len() int { return len(c.ordered) }

// LoadedAt returns when the snapshot was built.
func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }
