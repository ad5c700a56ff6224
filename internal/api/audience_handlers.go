package api

import (
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/marketplace-ops/internal/audience"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/metrics"
	"github.com/ignite/marketplace-ops/internal/pkg/httputil"
)

type estimateRequest struct {
	// Base overrides the configured population when set.
	Base *float64             `json:"base,omitempty"`
	Rule domain.TargetingRule `json:"rule"`
}

type estimateResponse struct {
	Estimate  int64              `json:"estimate"`
	Base      int64              `json:"base"`
	Breakdown audience.Breakdown `json:"breakdown"`
}

// EstimateAudience previews how many users a rule reaches.
//
//	POST /api/audience/estimate
func (h *Handlers) EstimateAudience(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	var (
		b   audience.Breakdown
		err error
	)
	if req.Base != nil {
		if *req.Base < 0 || math.IsNaN(*req.Base) || math.IsInf(*req.Base, 0) {
			httputil.BadRequest(w, "base must be a non-negative number")
			return
		}
		if *req.Base >= math.MaxInt64 {
			httputil.BadRequest(w, "base is too large")
			return
		}
		b, err = h.segments.PreviewWithBase(*req.Base, req.Rule)
	} else {
		b, err = h.segments.Preview(req.Rule)
	}
	if err != nil {
		respondError(w, err)
		return
	}

	metrics.AudienceEstimates.Inc()
	httputil.OK(w, estimateResponse{Estimate: b.Estimate, Base: b.Base, Breakdown: b})
}

// ListSegments lists saved segments, newest first.
//
//	GET /api/audience/segments?search=&page=&limit=
func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r, 50, 200)
	segs, total, err := h.segments.List(r.Context(), audience.ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if segs == nil {
		segs = []domain.AudienceSegment{}
	}
	httputil.OK(w, map[string]interface{}{
		"data":       segs,
		"pagination": p.meta(total),
	})
}

// CreateSegment saves a named rule with its estimate.
//
//	POST /api/audience/segments
func (h *Handlers) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var in audience.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	seg, err := h.segments.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, seg)
}

// GetSegment returns one saved segment.
//
//	GET /api/audience/segments/{id}
func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := h.segments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, seg)
}

// RefreshSegment recomputes a segment against the current base population.
//
//	POST /api/audience/segments/{id}/refresh
func (h *Handlers) RefreshSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := h.segments.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, seg)
}

// DeleteSegment removes a saved segment.
//
//	DELETE /api/audience/segments/{id}
func (h *Handlers) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.segments.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}
