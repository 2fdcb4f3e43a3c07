package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storesearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storesearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	ScopeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storesearch",
		Name:      "scope_requests_total",
		Help:      "Total catalog queries by scope and result status.",
	}, []string{"scope", "status"})

	ScopeRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storesearch",
		Name:      "scope_request_duration_seconds",
		Help:      "Catalog query duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"scope"})

	ScopeAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "storesearch",
		Name:      "scope_available",
		Help:      "Whether the last query of a scope succeeded (1) or failed (0).",
	}, []string{"scope"})

	GenerationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storesearch",
		Name:      "generations_total",
		Help:      "Total search generations dispatched after debounce.",
	})

	StaleResultsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storesearch",
		Name:      "stale_results_discarded_total",
		Help:      "Scope results dropped because a newer generation or input superseded them.",
	})

	SnapshotsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storesearch",
		Name:      "snapshots_published_total",
		Help:      "Total result snapshots published to renderers.",
	})

	ArtworkFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storesearch",
		Name:      "artwork_fetch_total",
		Help:      "Artwork loads by outcome.",
	}, []string{"status"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "storesearch",
		Name:      "ws_sessions_active",
		Help:      "Number of connected WebSocket search sessions.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScopeRequestsTotal,
		ScopeRequestDuration,
		ScopeAvailable,
		GenerationsTotal,
		StaleResultsDiscarded,
		SnapshotsPublished,
		ArtworkFetchTotal,
		SessionsActive,
	)
}
