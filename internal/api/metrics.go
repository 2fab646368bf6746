package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xiaolu-workflow/crawler-service/internal/telemetry"
)

// metricsMiddleware records request latency per method and route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		telemetry.ObserveHTTPRequest(r.Method, routePattern, time.Since(start))
	})
}
