// Package metrics exposes Prometheus instrumentation for dispatch runs and
// the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/zns-dispatch/internal/dispatch"
)

const namespace = "zns_dispatch"

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	// AttemptsTotal counts SendFunc calls by classification.
	AttemptsTotal *prometheus.CounterVec
	// AttemptDuration tracks the latency of a single SendFunc call.
	AttemptDuration *prometheus.HistogramVec
	// ResultsTotal counts terminal job results.
	ResultsTotal *prometheus.CounterVec
	// BatchesTotal counts completed batches.
	BatchesTotal prometheus.Counter
	// RunsActive is the number of runs currently dispatching.
	RunsActive prometheus.Gauge
	// RunsTotal counts finished runs by final state.
	RunsTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of provider send attempts",
		}, []string{"class"}),
		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Provider send attempt latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"class"}),
		ResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Total number of terminal job results",
		}, []string{"status", "error_code"}),
		BatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of completed batches",
		}),
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of dispatch runs in progress",
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished dispatch runs",
		}, []string{"state"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveAttempt implements dispatch.Observer.
func (m *Metrics) ObserveAttempt(class dispatch.Class, elapsed time.Duration) {
	m.AttemptsTotal.WithLabelValues(class.String()).Inc()
	m.AttemptDuration.WithLabelValues(class.String()).Observe(elapsed.Seconds())
}

// ObserveResult implements dispatch.Observer.
func (m *Metrics) ObserveResult(res dispatch.SendResult) {
	m.ResultsTotal.WithLabelValues(string(res.Status), res.ErrorCode).Inc()
}

// ObserveBatch implements dispatch.Observer.
func (m *Metrics) ObserveBatch(dispatch.BatchProgress) {
	m.BatchesTotal.Inc()
}

// RunStarted and RunFinished track run lifecycle for the dispatcher.
func (m *Metrics) RunStarted() { m.RunsActive.Inc() }

func (m *Metrics) RunFinished(state string) {
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(state).Inc()
}

// Middleware records request count and duration labelled with the chi
// route pattern instead of the raw path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

var _ dispatch.Observer = (*Metrics)(nil)
