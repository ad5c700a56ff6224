package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/marketplace-ops/internal/dispatch"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/pkg/httputil"
)

type notifyRequest struct {
	// ID, when the producer supplies it, rejects resubmission while the
	// notification is queued or in flight.
	ID        string           `json:"id,omitempty"`
	EventType string           `json:"event_type"`
	Recipient domain.Recipient `json:"recipient"`
	Data      map[string]any   `json:"data,omitempty"`
}

type notifyResponse struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Priority  domain.Priority `json:"priority"`
	Status    string          `json:"status"`
}

// SubmitNotification accepts a system event for delivery. Unknown event
// types are rejected; disabled ones are accepted and dropped by the worker
// so that the drop is reported. While the backlog is full only high
// priority events are admitted.
//
//	POST /api/notifications
func (h *Handlers) SubmitNotification(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		unavailable(w, "dispatch queue")
		return
	}

	var req notifyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.EventType = strings.TrimSpace(req.EventType)
	if req.EventType == "" {
		httputil.BadRequest(w, "event_type is required")
		return
	}
	if req.Recipient.UserID == "" {
		httputil.BadRequest(w, "recipient.user_id is required")
		return
	}
	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			httputil.BadRequest(w, "id must be a UUID")
			return
		}
	} else {
		req.ID = uuid.NewString()
	}

	route, err := h.routes.Resolve(req.EventType)
	if err != nil {
		respondError(w, err)
		return
	}
	if route.Priority != domain.PriorityHigh && h.pressure != nil && h.pressure.IsPaused() {
		w.Header().Set("Retry-After", "30")
		httputil.Error(w, http.StatusServiceUnavailable, "dispatch backlog is full, retry later")
		return
	}

	n := domain.Notification{
		ID:        req.ID,
		EventType: req.EventType,
		Recipient: req.Recipient,
		Data:      req.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), dispatch.NewJob(n, route.Priority)); err != nil {
		respondError(w, err)
		return
	}

	httputil.Accepted(w, notifyResponse{
		ID:        n.ID,
		EventType: n.EventType,
		Priority:  route.Priority,
		Status:    "queued",
	})
}

// GetNotificationAttempts returns the delivery log of one notification and
// its drop report, if it was dropped.
//
//	GET /api/notifications/{id}/attempts
func (h *Handlers) GetNotificationAttempts(w http.ResponseWriter, r *http.Request) {
	if h.delivery == nil {
		unavailable(w, "delivery log")
		return
	}
	id := chi.URLParam(r, "id")

	attempts, err := h.delivery.ListAttempts(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	drop, err := h.delivery.GetDrop(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}

	httputil.OK(w, map[string]interface{}{
		"notification_id": id,
		"attempts":        attempts,
		"drop":            drop,
	})
}
