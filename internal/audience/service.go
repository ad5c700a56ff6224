package audience

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
)

// Service implements segment business logic on top of the estimator.
// It is safe for concurrent use if the repository is.
type Service struct {
	repo Repository
	base int64
	now  func() time.Time
}

// NewService creates a segment service. basePopulation is the user count
// estimates are computed against when the caller supplies none.
func NewService(repo Repository, basePopulation int64) *Service {
	if basePopulation < 0 {
		basePopulation = 0
	}
	return &Service{repo: repo, base: basePopulation, now: time.Now}
}

// BasePopulation returns the configured default base.
func (s *Service) BasePopulation() int64 { return s.base }

// Preview validates rule and explains its estimate against the default base.
func (s *Service) Preview(rule domain.TargetingRule) (Breakdown, error) {
	return s.PreviewWithBase(float64(s.base), rule)
}

// PreviewWithBase validates rule and explains its estimate against base.
func (s *Service) PreviewWithBase(base float64, rule domain.TargetingRule) (Breakdown, error) {
	if err := rule.Validate(); err != nil {
		return Breakdown{}, err
	}
	return Explain(base, rule), nil
}

// Get returns a single segment.
func (s *Service) Get(ctx context.Context, id string) (*domain.AudienceSegment, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Segment IDs are UUIDs; anything else cannot name a stored segment.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// List returns segments matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.AudienceSegment, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// Create validates the rule, computes the estimate and persists the segment.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.AudienceSegment, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if err := input.Rule.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	seg := &domain.AudienceSegment{
		ID:             uuid.New().String(),
		Name:           name,
		Description:    strings.TrimSpace(input.Description),
		Rule:           input.Rule,
		BasePopulation: s.base,
		EstimatedSize:  Estimate(float64(s.base), input.Rule),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, seg); err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}

	logger.Info("audience segment created", "segment_id", seg.ID, "estimate", seg.EstimatedSize)
	return seg, nil
}

// Refresh recomputes a saved segment's estimate against the current base.
func (s *Service) Refresh(ctx context.Context, id string) (*domain.AudienceSegment, error) {
	seg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	est := Estimate(float64(s.base), seg.Rule)
	if err := s.repo.UpdateEstimate(ctx, id, s.base, est); err != nil {
		return nil, fmt.Errorf("refresh segment: %w", err)
	}
	seg.BasePopulation = s.base
	seg.EstimatedSize = est
	seg.UpdatedAt = s.now().UTC()
	return seg, nil
}

// Delete removes a segment.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

// CreateInput holds the fields for saving a new segment.
type CreateInput struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Rule        domain.TargetingRule `json:"rule"`
}
