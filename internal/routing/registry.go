package routing

import (
	"sync/atomic"

	"github.com/ignite/marketplace-ops/internal/domain"
)

// Registry holds the catalog currently in effect. Readers never block;
// Publish swaps in a new snapshot atomically.
type Registry struct {
	current atomic.Pointer[Catalog]
}

// NewRegistry creates a registry serving c. A nil catalog is replaced with
// an empty one.
func NewRegistry(c *Catalog) *Registry {
	r := &Registry{}
	r.Publish(c)
	return r
}

// Current returns the catalog in effect.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// Publish makes c the catalog in effect.
func (r *Registry) Publish(c *Catalog) {
	if c == nil {
		c, _ = NewCatalog(nil)
	}
	r.current.Store(c)
}

// ResolveRoute resolves eventType against the current catalog.
func (r *Registry) ResolveRoute(eventType string) (domain.EventRoute, error) {
	return r.Current().ResolveRoute(eventType)
}
