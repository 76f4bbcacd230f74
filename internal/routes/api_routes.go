package routes

import (
	"infinite-experiment/logbook/internal/api"
	"infinite-experiment/logbook/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterAPIRoutes registers the sync routes. Every route requires a
// session and is rate limited per user.
func RegisterAPIRoutes(r chi.Router, deps *api.Dependencies, handlers *api.Handlers) {
	limiter := middleware.NewRateLimiter(deps.Config.Sync.RateLimitRPS, deps.Config.Sync.RateLimitBurst, deps.Metrics)

	r.Route("/sync", func(sync chi.Router) {
		sync.Use(middleware.AuthMiddleware(deps.Validator))
		sync.Use(limiter.Middleware)

		sync.With(middleware.InFlightMiddleware(deps.Metrics, "/sync")).
			Post("/", handlers.PushSync())
		sync.With(middleware.InFlightMiddleware(deps.Metrics, "/sync/bulk")).
			Post("/bulk", handlers.PushBulkSync())
		sync.With(middleware.InFlightMiddleware(deps.Metrics, "/sync/{collection}")).
			Get("/{collection}", handlers.GetDelta())
	})
}
