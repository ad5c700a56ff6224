package api

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/ignite/marketplace-ops/internal/audience"
	"github.com/ignite/marketplace-ops/internal/dispatch"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/pkg/distlock"
	"github.com/ignite/marketplace-ops/internal/pkg/httputil"
	"github.com/ignite/marketplace-ops/internal/routing"
	"github.com/ignite/marketplace-ops/internal/service/eventroutes"
	"github.com/ignite/marketplace-ops/internal/worker"
)

// Enqueuer admits notifications for dispatch.
type Enqueuer interface {
	Enqueue(ctx context.Context, job dispatch.Job) error
}

// DeliveryLog reads back what happened to a notification.
type DeliveryLog interface {
	ListAttempts(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
	GetDrop(ctx context.Context, notificationID string) (*domain.DropReport, error)
}

// DropLog lists recent drops.
type DropLog interface {
	RecentDrops(ctx context.Context, eventType string, limit int) ([]domain.DropReport, error)
}

// Backpressure tells whether the dispatch backlog is too deep to admit
// more non-urgent notifications.
type Backpressure interface {
	IsPaused() bool
}

// Deps are the services behind the handlers. Queue, Delivery and Drops may
// be nil; their endpoints then answer 503.
type Deps struct {
	Segments     *audience.Service
	Routes       *eventroutes.Service
	Queue        Enqueuer
	Delivery     DeliveryLog
	Drops        DropLog
	Backpressure Backpressure
}

// Handlers contains the HTTP handlers of the admin API.
type Handlers struct {
	segments *audience.Service
	routes   *eventroutes.Service
	queue    Enqueuer
	delivery DeliveryLog
	drops    DropLog
	pressure Backpressure
}

// NewHandlers creates handlers over d.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		segments: d.Segments,
		routes:   d.Routes,
		queue:    d.Queue,
		delivery: d.Delivery,
		drops:    d.Drops,
		pressure: d.Backpressure,
	}
}

// errorRules maps service errors to HTTP statuses.
var errorRules = []httputil.ErrorRule{
	{Err: domain.ErrInvalidRule, Status: http.StatusBadRequest, Code: "invalid_rule"},
	{Err: domain.ErrInvalidRoute, Status: http.StatusBadRequest, Code: "invalid_route"},
	{Err: audience.ErrNameRequired, Status: http.StatusBadRequest, Code: "name_required"},
	{Err: eventroutes.ErrEventTypeMismatch, Status: http.StatusBadRequest, Code: "event_type_mismatch"},
	{Err: routing.ErrUnknownEventType, Status: http.StatusNotFound, Code: "unknown_event_type"},
	{Err: audience.ErrNotFound, Status: http.StatusNotFound, Code: "not_found"},
	{Err: eventroutes.ErrNotFound, Status: http.StatusNotFound, Code: "not_found"},
	{Err: distlock.ErrNotAcquired, Status: http.StatusConflict, Code: "publish_in_progress"},
	{Err: worker.ErrDuplicateJob, Status: http.StatusConflict, Code: "duplicate_notification"},
}

func respondError(w http.ResponseWriter, err error) {
	httputil.HandleError(w, err, errorRules)
}

func unavailable(w http.ResponseWriter, what string) {
	httputil.Error(w, http.StatusServiceUnavailable, what+" not configured")
}

// page holds parsed pagination values from query params.
type page struct {
	Page   int
	Limit  int
	Offset int
}

// pageMeta is returned next to list data.
type pageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// parsePage reads page and limit, defaulting limit and capping it at max.
func parsePage(r *http.Request, defaultLimit, max int) page {
	p, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if p < 1 {
		p = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > max {
		limit = max
	}
	return page{Page: p, Limit: limit, Offset: (p - 1) * limit}
}

func (p page) meta(total int) pageMeta {
	pages := int(math.Ceil(float64(total) / float64(p.Limit)))
	if pages < 1 {
		pages = 1
	}
	return pageMeta{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages, HasMore: p.Page < pages}
}
