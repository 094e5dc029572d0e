// Package metrics exposes Prometheus instruments for the engine and API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EngineDecisions counts governance decisions by operation and outcome.
	EngineDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docline",
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Engine decisions by operation and outcome.",
	}, []string{"operation", "outcome"})

	// SoDDenials counts separation-of-duties denials by rule.
	SoDDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docline",
		Subsystem: "engine",
		Name:      "sod_denials_total",
		Help:      "Approval attempts denied by a separation-of-duties rule.",
	}, []string{"rule"})

	// TasksGenerated counts RACI-generated tasks by type.
	TasksGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docline",
		Subsystem: "raci",
		Name:      "tasks_generated_total",
		Help:      "Tasks created by the RACI generator.",
	}, []string{"task_type"})

	// HTTPRequests counts handled API requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docline",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})

	// HTTPDuration observes request latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docline",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

// Decision records one engine decision outcome.
func Decision(operation, outcome string) {
	EngineDecisions.WithLabelValues(operation, outcome).Inc()
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments an HTTP handler with request count and latency.
func Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(HTTPDuration,
		promhttp.InstrumentHandlerCounter(HTTPRequests, next))
}
