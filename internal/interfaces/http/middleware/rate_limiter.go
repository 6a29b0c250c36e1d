package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

// RateLimitConfig настраивает ограничение частоты запросов.
type RateLimitConfig struct {
	Limiter port.RateLimiter

	// TrustProxyHeaders включает X-Forwarded-For / X-Real-IP. Только за доверенным прокси,
	// иначе клиент меняет ключ лимита подменой заголовка.
	TrustProxyHeaders bool

	// OnDrop вызывается для каждого отклоненного запроса (метрики).
	OnDrop func()
}

// RateLimit ограничивает запросы по IP клиента. Ошибка хранилища лимитов не блокирует запрос.
func RateLimit(cfg RateLimitConfig, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, cfg.TrustProxyHeaders)

			allowed, err := cfg.Limiter.Allow(r.Context(), ip)
			if err != nil {
				log.Warn("Rate limiter unavailable, allowing request",
					"error", err.Error(),
					"remote_ip", ip,
				)
				allowed = true
			}

			if !allowed {
				if cfg.OnDrop != nil {
					cfg.OnDrop()
				}
				w.Header().Set("Retry-After", "60")
				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "Rate limit exceeded. Please try again later.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP возвращает адрес из RemoteAddr. С trustProxy сначала берет первый адрес
// из X-Forwarded-For, затем X-Real-IP.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := forwardedIP(r); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
