package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/marketplace-ops/internal/auth"
	"github.com/ignite/marketplace-ops/internal/metrics"
	"github.com/ignite/marketplace-ops/internal/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures SetupRoutes. Auth and Health may be nil.
type RouterOptions struct {
	Auth           *auth.AuthManager
	Health         *HealthChecker
	AllowedOrigins []string
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics (no auth required)
	if opts.Health != nil {
		r.Get("/health", opts.Health.HandleHealth)
		r.Get("/health/live", opts.Health.HandleLiveness)
		r.Get("/health/ready", opts.Health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	if opts.Auth != nil && opts.Auth.OAuthEnabled() {
		r.Get("/auth/login", opts.Auth.HandleLogin)
		r.Get("/auth/callback", opts.Auth.HandleCallback)
		r.Get("/auth/logout", opts.Auth.HandleLogout)
		r.Get("/auth/user", opts.Auth.HandleUserInfo)
	}

	r.Route("/api", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.RequireAuth)
		}

		r.Route("/audience", func(r chi.Router) {
			r.Post("/estimate", h.EstimateAudience)
			r.Get("/segments", h.ListSegments)
			r.Post("/segments", h.CreateSegment)
			r.Get("/segments/{id}", h.GetSegment)
			r.Delete("/segments/{id}", h.DeleteSegment)
			r.Post("/segments/{id}/refresh", h.RefreshSegment)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/routes", h.ListRoutes)
			r.Get("/routes/{eventType}", h.GetRoute)
			r.Put("/routes/{eventType}", h.PutRoute)
			r.Post("/routes/{eventType}/enabled", h.SetRouteEnabled)
			r.Post("/routes/{eventType}/next-action", h.NextAction)
			r.Get("/drops", h.ListDrops)
		})

		r.Post("/notifications", h.SubmitNotification)
		r.Get("/notifications/{id}/attempts", h.GetNotificationAttempts)
	})

	return r
}

// requestLogger logs each request and records the HTTP metrics by route
// pattern so that path parameters do not explode label cardinality.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		elapsed := time.Since(start)

		metrics.HttpRequestTotal.WithLabelValues(pattern, strconv.Itoa(status), r.Method).Inc()
		metrics.HttpRequestDuration.WithLabelValues(pattern, r.Method).Observe(elapsed.Seconds())

		if pattern == "/health/live" || pattern == "/metrics" {
			return
		}
		logger.Debug("http request",
			"method", r.Method,
			"route", pattern,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
