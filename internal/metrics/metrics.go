// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtale_messages_total",
			Help: "Total number of routed messages by interpreted intent.",
		},
		[]string{"intent"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshtale_generation_duration_seconds",
			Help:    "Histogram of narrative generation durations by serving source.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	GenerationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtale_generation_failures_total",
			Help: "Total number of failed narrative generations by reason.",
		},
		[]string{"reason"},
	)

	BusyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshtale_busy_rejections_total",
		Help: "Total number of messages rejected because the session was locked.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshtale_rate_limited_total",
		Help: "Total number of messages rejected by the per-sender rate limit.",
	})

	Sessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshtale_sessions",
			Help: "Number of stored sessions by state.",
		},
		[]string{"state"},
	)

	BroadcastsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshtale_broadcasts_queued_total",
		Help: "Total number of announcements pushed to the broadcast queue.",
	})
)

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetSessionCounts replaces the per-state session gauge with a fresh
// snapshot from the store.
func SetSessionCounts(counts map[string]int, states []string) {
	for _, state := range states {
		Sessions.WithLabelValues(state).Set(float64(counts[state]))
	}
}
