// Package metrics provides Prometheus metrics collection for the
// coordinator, on a dedicated registry rather than the global default one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the coordinator exports.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	QueueDepth       *prometheus.GaugeVec
	QueuePopDuration prometheus.Histogram
	ReconcileApplied *prometheus.CounterVec
	ReconcileLatency prometheus.Histogram
	IngestsTotal     *prometheus.CounterVec
}

// New builds a Metrics instance on a fresh, non-global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_http_requests_in_flight",
			Help: "HTTP requests currently being handled.",
		}),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coordinator_queue_depth",
				Help: "Queued jobs by state (available, running, pending).",
			},
			[]string{"state"},
		),
		QueuePopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_queue_pop_duration_seconds",
			Help:    "Duration of a dispatcher Pop call.",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcileApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_reconcile_packages_total",
				Help: "Package reports applied by the reconciler, by outcome.",
			},
			[]string{"outcome"},
		),
		ReconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_reconcile_duration_seconds",
			Help:    "Duration of a full Reconciler.Apply call.",
			Buckets: prometheus.DefBuckets,
		}),
		IngestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_ingests_total",
				Help: "Rebuild reports ingested, by verdict status.",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
		m.QueueDepth, m.QueuePopDuration, m.ReconcileApplied,
		m.ReconcileLatency, m.IngestsTotal,
	)
	return m
}

// Handler returns the /metrics exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records per-request counters and latency, keyed by the
// matched route template so high-cardinality path params don't blow up
// label cardinality.
func (m *Metrics) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			status := strconv.Itoa(wrapped.status)
			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
