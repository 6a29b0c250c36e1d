package http

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/internal/infrastructure/observability/metrics"
	"github.com/dreschagin/screenshot-api/internal/interfaces/http/handler"
	"github.com/dreschagin/screenshot-api/internal/interfaces/http/middleware"
	"github.com/dreschagin/screenshot-api/pkg/config"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

// ReadinessCheck сообщает, готова ли зависимость принимать трафик.
type ReadinessCheck func(ctx context.Context) error

// Router настраивает маршруты приложения
type Router struct {
	mux               *http.ServeMux
	captureAPIHandler *handler.CaptureAPIHandler
	rateLimiter       port.RateLimiter
	metrics           *metrics.Metrics
	gatherer          prometheus.Gatherer
	readiness         map[string]ReadinessCheck
	security          config.SecurityConfig
	logger            *logger.Logger
}

// NewRouter создает новый router. rateLimiter, promMetrics и gatherer могут быть nil.
func NewRouter(
	captureAPIHandler *handler.CaptureAPIHandler,
	rateLimiter port.RateLimiter,
	promMetrics *metrics.Metrics,
	gatherer prometheus.Gatherer,
	security config.SecurityConfig,
	logger *logger.Logger,
) *Router {
	return &Router{
		mux:               http.NewServeMux(),
		captureAPIHandler: captureAPIHandler,
		rateLimiter:       rateLimiter,
		metrics:           promMetrics,
		gatherer:          gatherer,
		readiness:         make(map[string]ReadinessCheck),
		security:          security,
		logger:            logger,
	}
}

// AddReadinessCheck регистрирует проверку для /readyz.
func (rt *Router) AddReadinessCheck(name string, check ReadinessCheck) {
	rt.readiness[name] = check
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	// Health endpoints are unauthenticated for probes.
	rt.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	rt.mux.HandleFunc("/readyz", rt.ready)

	if rt.gatherer != nil {
		rt.mux.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}

	authConfig := middleware.AuthConfig{
		Enabled:     rt.security.AuthEnabled,
		BearerToken: rt.security.AuthToken,
	}
	rateLimitConfig := middleware.RateLimitConfig{
		Limiter:           rt.rateLimiter,
		TrustProxyHeaders: rt.security.TrustProxyHeaders,
	}
	if rt.metrics != nil {
		authConfig.OnReject = rt.metrics.AuthFailures.Inc
		rateLimitConfig.OnDrop = rt.metrics.RateLimitDropped.Inc
	}

	var capture http.Handler = http.HandlerFunc(rt.captureAPIHandler.CaptureScreenshot)
	capture = middleware.RateLimit(rateLimitConfig, rt.logger)(capture)
	capture = middleware.Auth(authConfig, rt.logger)(capture)

	rt.mux.Handle("/api/screenshot", capture)
	rt.mux.Handle("/api/v1/screenshots", capture)

	// Применяем middleware
	var handler http.Handler = rt.mux
	handler = middleware.CORS(rt.security.AllowedOrigins)(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = middleware.Logger(rt.logger)(handler)
	handler = middleware.Recovery(rt.logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

func (rt *Router) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range rt.readiness {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		rt.logger.Warn("Readiness check failed", "checks", failed)
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
