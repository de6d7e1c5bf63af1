// Package metrics defines the Prometheus collectors exported by Cloudidada.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloudidada"

// Outcome label values for remote store operations.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Metrics holds every collector. A nil *Metrics disables instrumentation;
// callers check for nil before recording.
type Metrics struct {
	registry *prometheus.Registry

	// RemoteOperations counts remote document store calls by op and outcome.
	RemoteOperations *prometheus.CounterVec

	// BreakerUsable is 1 while the remote store is usable and 0 once tripped.
	BreakerUsable prometheus.Gauge

	// BreakerTrips counts USABLE -> TRIPPED transitions.
	BreakerTrips prometheus.Counter

	// LocalOnly counts operations served by the local map alone because the breaker is tripped.
	LocalOnly *prometheus.CounterVec

	// Uploads counts object store uploads by backend and outcome.
	Uploads *prometheus.CounterVec

	// UploadedBytes sums the bytes accepted by the object store.
	UploadedBytes prometheus.Counter

	// HTTPRequests counts handled requests by method, route and status.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration observes request latency by method and route.
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		RemoteOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "remote_operations_total",
			Help:      "Remote document store operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		BreakerUsable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "remote_usable",
			Help:      "1 while the remote document store is usable, 0 after the breaker tripped.",
		}),
		BreakerTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "breaker_trips_total",
			Help:      "Number of times the remote store breaker tripped.",
		}),
		LocalOnly: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "local_only_operations_total",
			Help:      "Operations served only by the local map.",
		}, []string{"op"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "objectstore",
			Name:      "uploads_total",
			Help:      "Object store uploads by backend and outcome.",
		}, []string{"backend", "outcome"}),
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "objectstore",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes accepted by the object store.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.BreakerUsable.Set(1)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler that serves the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
