// Package metrics holds the Prometheus collectors for the notification
// pipeline and the admin API.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var DeliveryAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_delivery_attempts_total",
		Help: "Send attempts by event type, channel and outcome",
	},
	[]string{"event_type", "channel", "outcome"},
)

var NotificationsDelivered = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Notifications that reached a terminal delivered state",
	},
	[]string{"event_type", "channel"},
)

var NotificationsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Notifications dropped without delivery, by reason",
	},
	[]string{"event_type", "reason"},
)

var RateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_rate_limited_total",
		Help: "Notifications held back by the per-event rate limit",
	},
	[]string{"event_type", "policy"},
)

var SendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "notification_send_duration_seconds",
		Help:    "Time taken to hand a notification to its provider",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider", "channel"},
)

var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Jobs waiting in the dispatch queue",
	},
	[]string{"queue"},
)

var AudienceEstimates = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "audience_estimates_total",
		Help: "Audience size estimates computed",
	},
)

var HttpRequestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_total_requests",
		Help: "Total number of HTTP requests",
	},
	[]string{"route", "status", "method"},
)

var HttpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration for http requests",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "method"},
)

var (
	apiOnce    sync.Once
	workerOnce sync.Once
	queueOnce  sync.Once
)

func registerQueueDepth() {
	queueOnce.Do(func() { prometheus.MustRegister(QueueDepth) })
}

// InitAPIMetrics registers the collectors the API server exports.
func InitAPIMetrics() {
	apiOnce.Do(func() {
		prometheus.MustRegister(HttpRequestTotal)
		prometheus.MustRegister(HttpRequestDuration)
		prometheus.MustRegister(AudienceEstimates)
	})
	registerQueueDepth()
}

// InitWorkerMetrics registers the collectors the dispatch worker exports.
func InitWorkerMetrics() {
	workerOnce.Do(func() {
		prometheus.MustRegister(DeliveryAttempts)
		prometheus.MustRegister(NotificationsDelivered)
		prometheus.MustRegister(NotificationsDropped)
		prometheus.MustRegister(RateLimited)
		prometheus.MustRegister(SendDuration)
	})
	registerQueueDepth()
}
