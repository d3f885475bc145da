package httpapi

import (
	"net/http"

	"github.com/rs/cors"
)

// WithCORS admits browser requests from the dashboard origin, credentials included.
func WithCORS(next http.Handler, origin string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(next)
}
