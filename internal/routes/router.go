package routes

import (
	"net/http"
	"time"

	"infinite-experiment/logbook/internal/api"
	"infinite-experiment/logbook/internal/logging"
	"infinite-experiment/logbook/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes builds the HTTP handler. checks are pinged by the health
// endpoint; gatherer backs /metrics.
func RegisterRoutes(deps *api.Dependencies, checks map[string]api.Pinger, gatherer prometheus.Gatherer, upSince time.Time) http.Handler {

	// initialize Chi router
	r := chi.NewRouter()

	// global middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.MetricsMiddleware(deps.Metrics))
	if deps.Config.AppEnv == "development" {
		r.Use(middleware.Logging)
	}

	origins := deps.Config.Sync.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://localhost:8081"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Logbook-Client"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	logging.Info("Router initialized with metrics and logging middleware")

	// health check and metrics
	r.Get("/healthCheck", api.HealthCheckHandler(checks, upSince))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	RegisterAPIRoutes(r, deps, api.NewHandlers(deps))

	return r
}
