package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk bus dan ledger.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsEmitted   *prometheus.CounterVec
	handlersFailed  *prometheus.CounterVec
	emitDuration    *prometheus.HistogramVec
	entriesRejected *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "HTTP requests served by the worker, by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Worker HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	emitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_emitted_total",
		Help: "Business events emitted, by origin module.",
	}, []string{"module"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_handlers_failed_total",
		Help: "Event handler failures, by handler name.",
	}, []string{"handler"})
	emitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_emit_duration_seconds",
		Help:    "Time spent running every handler of one emit, by origin module.",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_rejected_total",
		Help: "Journal entries rejected, by reason code.",
	}, []string{"reason"})
	registry.MustRegister(requests, duration, emitted, failed, emitDuration, rejected)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		eventsEmitted:   emitted,
		handlersFailed:  failed,
		emitDuration:    emitDuration,
		entriesRejected: rejected,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EventEmitted records one completed emit call.
func (m *Metrics) EventEmitted(module string, _, _ int, d time.Duration) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(module).Inc()
	m.emitDuration.WithLabelValues(module).Observe(d.Seconds())
}

// HandlerFailed records one isolated handler failure.
func (m *Metrics) HandlerFailed(handler string) {
	if m == nil {
		return
	}
	m.handlersFailed.WithLabelValues(handler).Inc()
}

// LedgerRejected records a journal entry refused by the ledger.
func (m *Metrics) LedgerRejected(reason string) {
	if m == nil {
		return
	}
	m.entriesRejected.WithLabelValues(reason).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
