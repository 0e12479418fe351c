// Package metrics implements C13: the Prometheus registry and HTTP
// observability middleware for this service, adapted from
// gateway/middleware/observability.go's shape — slog in place of the
// standard library logger, plus cache and circuit-breaker counters the
// gateway's generic request/duration pair doesn't need.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Registry bundles this service's Prometheus collectors and a tracer for its
// one HTTP entrypoint.
type Registry struct {
	logger *slog.Logger
	tracer trace.Tracer

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	cacheHits *prometheus.CounterVec
	breaker   *prometheus.CounterVec

	reg *prometheus.Registry
}

// New constructs a Registry, registering every collector against a fresh
// prometheus.Registry so repeated test construction never panics on
// duplicate registration.
func New(serviceName string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locatefee",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the locate-fee API.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "locatefee",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	cacheHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locatefee",
		Name:      "cache_results_total",
		Help:      "Cache lookups by namespace and outcome (hit/miss).",
	}, []string{"namespace", "outcome"})
	breaker := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locatefee",
		Name:      "breaker_state_changes_total",
		Help:      "Circuit breaker state transitions by endpoint and new state.",
	}, []string{"endpoint", "state"})
	reg.MustRegister(requests, durations, cacheHits, breaker)

	return &Registry{
		logger:    logger,
		tracer:    otel.Tracer(serviceName),
		requests:  requests,
		durations: durations,
		cacheHits: cacheHits,
		breaker:   breaker,
		reg:       reg,
	}
}

// Middleware wraps next with request counting, duration histogram
// observation, and an OpenTelemetry span named after route.
func (r *Registry) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ctx, span := r.tracer.Start(req.Context(), route, trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
			))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", rec.status))
			span.End()

			elapsed := time.Since(start).Seconds()
			status := http.StatusText(rec.status)
			r.requests.WithLabelValues(route, req.Method, status).Inc()
			r.durations.WithLabelValues(route, req.Method).Observe(elapsed)
		})
	}
}

// Handler exposes the registry's collectors for Prometheus scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordCacheResult increments the cache_results_total counter for a lookup
// against namespace, labeled "hit" or "miss".
func (r *Registry) RecordCacheResult(namespace string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.cacheHits.WithLabelValues(namespace, outcome).Inc()
}

// RecordBreakerStateChange increments the breaker_state_changes_total
// counter, intended as the OnStateChange callback wired into package
// upstream's gobreaker.Settings.
func (r *Registry) RecordBreakerStateChange(endpoint, state string) {
	r.breaker.WithLabelValues(endpoint, state).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// contextKeyType avoids collisions with other packages' context keys.
type contextKeyType struct{}

var requestIDKey = contextKeyType{}

// WithRequestID attaches a request ID to ctx for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID attached by WithRequestID, if
// any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}
