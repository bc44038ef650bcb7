package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS lets captive portals served from vendor hotspots call the payment
// routes. An empty origin list allows every origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", TraceHeader},
		ExposedHeaders: []string{TraceHeader, "Retry-After"},
		MaxAge:         600,
	})
	return c.Handler
}
