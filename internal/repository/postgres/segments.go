package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/marketplace-ops/internal/audience"
	"github.com/ignite/marketplace-ops/internal/domain"
)

// SegmentRepo implements audience.Repository against PostgreSQL. The
// targeting rule is stored as JSONB.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (*domain.AudienceSegment, error) {
	var (
		s    domain.AudienceSegment
		rule []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &rule,
		&s.BasePopulation, &s.EstimatedSize, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rule, &s.Rule); err != nil {
		return nil, fmt.Errorf("decode rule of segment %s: %w", s.ID, err)
	}
	return &s, nil
}

const segmentColumns = `id, name, COALESCE(description,''), rule, base_population, estimated_size, created_at, updated_at`

func (r *SegmentRepo) Get(ctx context.Context, id string) (*domain.AudienceSegment, error) {
	s, err := scanSegment(r.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM audience_segments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, audience.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

func (r *SegmentRepo) List(ctx context.Context, f audience.ListFilter) ([]domain.AudienceSegment, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []interface{}{}
	idx := 1
	if f.Search != "" {
		where = fmt.Sprintf(" WHERE name ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audience_segments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count segments: %w", err)
	}

	q := `SELECT ` + segmentColumns + ` FROM audience_segments` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []domain.AudienceSegment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

func (r *SegmentRepo) Create(ctx context.Context, s *domain.AudienceSegment) error {
	rule, err := json.Marshal(s.Rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audience_segments
			(id, name, description, rule, base_population, estimated_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.Name, s.Description, rule, s.BasePopulation, s.EstimatedSize, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

func (r *SegmentRepo) UpdateEstimate(ctx context.Context, id string, base, estimate int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE audience_segments
		SET base_population = $2, estimated_size = $3, updated_at = NOW()
		WHERE id = $1
	`, id, base, estimate)
	if err != nil {
		return fmt.Errorf("update segment estimate: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return audience.ErrNotFound
	}
	return nil
}

func (r *SegmentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audience_segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return audience.ErrNotFound
	}
	return nil
}
