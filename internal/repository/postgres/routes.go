package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/service/eventroutes"
	"github.com/lib/pq"
)

// RouteRepo implements eventroutes.Repository against PostgreSQL.
type RouteRepo struct{ db *sql.DB }

// NewRouteRepo creates a Postgres-backed route repository.
func NewRouteRepo(db *sql.DB) *RouteRepo { return &RouteRepo{db: db} }

const routeColumns = `event_type, COALESCE(description,''), category, enabled, priority,
	primary_channel, fallback_channels, rate_limit_per_minute, max_retries, error_policy, updated_at`

func scanRoute(row rowScanner) (*domain.EventRoute, error) {
	var (
		rt        domain.EventRoute
		fallbacks []string
	)
	if err := row.Scan(&rt.EventType, &rt.Description, &rt.Category, &rt.Enabled, &rt.Priority,
		&rt.PrimaryChannel, pq.Array(&fallbacks), &rt.RateLimitPerMinute, &rt.MaxRetries,
		&rt.ErrorPolicy, &rt.UpdatedAt); err != nil {
		return nil, err
	}
	rt.FallbackChannels = make([]domain.Channel, len(fallbacks))
	for i, ch := range fallbacks {
		rt.FallbackChannels[i] = domain.Channel(ch)
	}
	return &rt, nil
}

func channelStrings(chs []domain.Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = string(ch)
	}
	return out
}

func (r *RouteRepo) List(ctx context.Context) ([]domain.EventRoute, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+routeColumns+` FROM event_routes ORDER BY category, event_type`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRoute
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		out = append(out, *rt)
	}
	return out, rows.Err()
}

func (r *RouteRepo) Get(ctx context.Context, eventType string) (*domain.EventRoute, error) {
	rt, err := scanRoute(r.db.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM event_routes WHERE event_type = $1`, eventType))
	if err == sql.ErrNoRows {
		return nil, eventroutes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	return rt, nil
}

func (r *RouteRepo) Upsert(ctx context.Context, rt *domain.EventRoute) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_routes
			(event_type, description, category, enabled, priority, primary_channel,
			 fallback_channels, rate_limit_per_minute, max_retries, error_policy, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_type) DO UPDATE SET
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			primary_channel = EXCLUDED.primary_channel,
			fallback_channels = EXCLUDED.fallback_channels,
			rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
			max_retries = EXCLUDED.max_retries,
			error_policy = EXCLUDED.error_policy,
			updated_at = EXCLUDED.updated_at
	`, rt.EventType, rt.Description, rt.Category, rt.Enabled, rt.Priority, rt.PrimaryChannel,
		pq.Array(channelStrings(rt.FallbackChannels)), rt.RateLimitPerMinute, rt.MaxRetries,
		rt.ErrorPolicy, rt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert route %s: %w", rt.EventType, err)
	}
	return nil
}

func (r *RouteRepo) SetEnabled(ctx context.Context, eventType string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE event_routes SET enabled = $2, updated_at = NOW() WHERE event_type = $1`,
		eventType, enabled)
	if err != nil {
		return fmt.Errorf("set route enabled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return eventroutes.ErrNotFound
	}
	return nil
}

func (r *RouteRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_routes`).Scan(&n)
	return n, err
}
