// Package observability wires Prometheus metrics for the HTTP layer and the
// permission store.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the application registers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	permissionResolved *prometheus.CounterVec
	permissionDenied   prometheus.Counter
}

// New builds and registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epicoop_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "epicoop_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		permissionResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epicoop_permission_resolutions_total",
			Help: "Permission set resolutions by tier: l1, l2 or source.",
		}, []string{"tier"}),
		permissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epicoop_permission_denials_total",
			Help: "Requests rejected by the authorization middleware.",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.permissionResolved,
		m.permissionDenied,
	)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records every request against the HTTP collectors. Routes are
// labelled by chi pattern, not raw path, to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// PermissionResolved satisfies the permission store's metrics hook.
func (m *Metrics) PermissionResolved(tier string) {
	m.permissionResolved.WithLabelValues(tier).Inc()
}

// PermissionDenied counts one middleware denial.
func (m *Metrics) PermissionDenied() {
	m.permissionDenied.Inc()
}
