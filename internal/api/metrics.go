package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP collectors of the API server.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	searches *prometheus.CounterVec
}

// NewMetrics creates the server collectors and registers them, plus the Go
// runtime and process collectors, on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kgindex_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kgindex_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kgindex_http_requests_in_flight",
			Help: "HTTP requests being served.",
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kgindex_searches_total",
			Help: "Searches by kind (keyword, semantic, fulltext) and whether semantic search degraded.",
		}, []string{"kind", "degraded"}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.inflight, m.searches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware records request counts and latency labelled by the matched
// route pattern.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.inflight.Inc()
			defer m.inflight.Dec()

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := routeLabel(r)
			m.requests.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()
			m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

func (m *Metrics) countSearch(kind string, degraded bool) {
	m.searches.WithLabelValues(kind, strconv.FormatBool(degraded)).Inc()
}

// handleMetrics serves the registry in the Prometheus exposition format.
func (s *Server) handleMetrics() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
