package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS разрешает вызовы из браузерной формы с перечисленных origin.
// Пустой список отключает CORS-заголовки.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, ErrorCategoryHeader},
		MaxAge:         300,
	})
	return c.Handler
}
