package eventroutes

import (
	"context"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/storage"
)

// Repository defines the data access contract for event routes.
// Implementations must be safe for concurrent use.
type Repository interface {
	// List returns every route.
	List(ctx context.Context) ([]domain.EventRoute, error)

	// Get returns one route. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, eventType string) (*domain.EventRoute, error)

	// Upsert inserts or replaces the route keyed by its event type.
	Upsert(ctx context.Context, r *domain.EventRoute) error

	// SetEnabled flips a route on or off. Returns ErrNotFound if it doesn't
	// exist.
	SetEnabled(ctx context.Context, eventType string, enabled bool) error

	// Count returns the number of stored routes.
	Count(ctx context.Context) (int, error)
}

// CatalogStore archives published catalogs.
type CatalogStore interface {
	SaveCatalog(ctx context.Context, routes []domain.EventRoute, savedBy string) (*storage.CatalogSnapshot, error)
}
