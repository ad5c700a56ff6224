package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/marketplace-ops/internal/auth"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/pkg/httputil"
	"github.com/ignite/marketplace-ops/internal/service/eventroutes"
)

// ListRoutes returns the whole catalog in display order.
//
//	GET /api/events/routes
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.routes.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if routes == nil {
		routes = []domain.EventRoute{}
	}
	httputil.OK(w, map[string]interface{}{
		"data":  routes,
		"total": len(routes),
	})
}

// GetRoute returns the stored route of one event type.
//
//	GET /api/events/routes/{eventType}
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.routes.Get(r.Context(), chi.URLParam(r, "eventType"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, route)
}

// PutRoute creates or replaces a route. The event type in the body may be
// omitted; if present it must match the path.
//
//	PUT /api/events/routes/{eventType}
func (h *Handlers) PutRoute(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "eventType")

	var route domain.EventRoute
	if !httputil.Decode(w, r, &route) {
		return
	}
	if route.EventType == "" {
		route.EventType = eventType
	}
	if route.EventType != eventType {
		respondError(w, eventroutes.ErrEventTypeMismatch)
		return
	}

	saved, err := h.routes.Upsert(r.Context(), route, auth.Actor(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, saved)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetRouteEnabled turns an event type on or off.
//
//	POST /api/events/routes/{eventType}/enabled
func (h *Handlers) SetRouteEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httputil.BadRequest(w, "enabled is required")
		return
	}

	route, err := h.routes.SetEnabled(r.Context(), chi.URLParam(r, "eventType"), *req.Enabled, auth.Actor(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, route)
}

// NextAction simulates one routing decision for a hypothetical send
// outcome against the published catalog.
//
//	POST /api/events/routes/{eventType}/next-action
func (h *Handlers) NextAction(w http.ResponseWriter, r *http.Request) {
	var in eventroutes.SimulateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	switch in.Outcome {
	case domain.OutcomeDelivered, domain.OutcomeFailed:
	default:
		httputil.BadRequest(w, "outcome must be delivered or failed")
		return
	}

	res, err := h.routes.Simulate(chi.URLParam(r, "eventType"), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// ListDrops returns recent drop reports, newest first.
//
//	GET /api/events/drops?event_type=&limit=
func (h *Handlers) ListDrops(w http.ResponseWriter, r *http.Request) {
	if h.drops == nil {
		unavailable(w, "drop log")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	drops, err := h.drops.RecentDrops(r.Context(), r.URL.Query().Get("event_type"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if drops == nil {
		drops = []domain.DropReport{}
	}
	httputil.OK(w, map[string]interface{}{
		"data":  drops,
		"total": len(drops),
	})
}
