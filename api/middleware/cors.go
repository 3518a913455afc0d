package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000", // local dashboard dev
	"https://dashboard.harborline.io",
	"https://staging-dashboard.harborline.io",
}

// CORS returns middleware that applies the dashboard origin policy.
// Webhook delivery is server-to-server and never preflights, so the
// policy only matters for the tenant API.
func CORS() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   defaultCORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"Idempotent-Replay", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
