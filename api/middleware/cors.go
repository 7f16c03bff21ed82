package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS applies the storefront's origin policy.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-ZP-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
