package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles prometheus collectors used by the capture service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	CapturesTotal      *prometheus.CounterVec
	StageDurationSec   *prometheus.HistogramVec
	CaptureBytes       prometheus.Histogram
	AuthFailures       prometheus.Counter
	RateLimitDropped   prometheus.Counter
}

func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshot_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenshot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"route", "method", "status"}),
		CapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshot_captures_total",
			Help: "Total number of capture attempts by outcome and failure category.",
		}, []string{"outcome", "category"}),
		StageDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenshot_stage_duration_seconds",
			Help:    "Time spent in each capture stage.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"stage"}),
		CaptureBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screenshot_capture_bytes",
			Help:    "Size of stored screenshots in bytes.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_auth_failures_total",
			Help: "Total number of auth failures.",
		}),
		RateLimitDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_ratelimit_dropped_total",
			Help: "Total number of requests dropped by rate limiter.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.CapturesTotal,
		m.StageDurationSec,
		m.CaptureBytes,
		m.AuthFailures,
		m.RateLimitDropped,
	)

	return m
}

// ObserveStage implements port.CaptureRecorder.
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	m.StageDurationSec.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveOutcome implements port.CaptureRecorder.
func (m *Metrics) ObserveOutcome(outcome, category string, bytes int) {
	if category == "" {
		category = "none"
	}
	m.CapturesTotal.WithLabelValues(outcome, category).Inc()
	if bytes > 0 {
		m.CaptureBytes.Observe(float64(bytes))
	}
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := normalizeRoute(r.URL.Path)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

// normalizeRoute keeps label cardinality bounded.
func normalizeRoute(path string) string {
	switch {
	case path == "/api/screenshot", path == "/api/v1/screenshots":
		return path
	case path == "/healthz", path == "/readyz", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/api/"):
		return "/api/*"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
