// Package app wires the HTTP router, the scheduler loop and the janitor.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-ad-generator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	// The worker endpoint can legitimately hold a connection for the full
	// per-job budget, so the request timeout sits above it.
	r.Use(httpserver.TimeoutMiddleware(cfg.WorkerJobTimeout + 5*time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit user-facing mutating endpoints. The worker endpoint is
	// exempt: the scheduler calls it several times per second.
	r.Group(func(ur chi.Router) {
		ur.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		ur.Post("/v1/batches", srv.GenerateBatch)
		ur.Post("/v1/batches/{id}/cancel", srv.CancelBatch)
	})
	r.Post("/v1/worker", srv.RunWorker)
	r.Get("/v1/batches/{id}", srv.GetBatch)

	r.Get("/healthz", srv.Healthz)
	r.Get("/readyz", srv.Readyz)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
