package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// detailsSlots caps concurrent aggregate builds system-wide
const detailsSlots = 8

// RouterConfig holds configuration for the router
type RouterConfig struct {
	Database   interface{ Health(context.Context) error }
	Users      UserDirectory
	Aggregates AggregateStore
	Syncer     Synchronizer
	Populator  Populator
}

// RouterResult holds the router and resources that need cleanup
type RouterResult struct {
	Router       *chi.Mux
	RateLimiters *RateLimiters
}

// NewRouter creates and configures the HTTP router.
// Caller must call result.RateLimiters.Stop() on shutdown.
func NewRouter(cfg *RouterConfig) *RouterResult {
	r := chi.NewRouter()

	rateLimiters := NewRateLimiters()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)
	r.Use(rateLimiters.Global.Middleware)

	if cfg.Database != nil {
		r.Get("/api/health", NewHealthHandler(cfg.Database))
	} else {
		r.Get("/api/health", HealthHandler)
	}

	userHandler := NewUserHandler(cfg.Users)
	repoHandler := NewRepoHandler(cfg.Users, cfg.Aggregates, cfg.Syncer, cfg.Populator)
	r.Route("/api/users/{user}", func(r chi.Router) {
		r.Get("/", userHandler.Get)
		r.Get("/repos", userHandler.Repos)
		r.With(DetailsGuardMiddleware(rateLimiters.Details, detailsSlots)).
			Get("/{repo}/details", repoHandler.Details)
	})

	return &RouterResult{
		Router:       r,
		RateLimiters: rateLimiters,
	}
}
