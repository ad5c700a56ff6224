package audience

import (
	"context"

	"github.com/ignite/marketplace-ops/internal/domain"
)

// Repository defines the data access contract for saved segments.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single segment. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.AudienceSegment, error)

	// List returns segments matching the filter, newest first, and the total
	// number of matches ignoring pagination.
	List(ctx context.Context, filter ListFilter) ([]domain.AudienceSegment, int, error)

	// Create inserts a new segment.
	Create(ctx context.Context, s *domain.AudienceSegment) error

	// UpdateEstimate stores a recomputed estimate for an existing segment.
	UpdateEstimate(ctx context.Context, id string, base, estimate int64) error

	// Delete removes a segment. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error
}

// ListFilter controls pagination and search for segment lists.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}
