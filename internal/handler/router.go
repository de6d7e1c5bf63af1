// Package handler provides the HTTP API of the Cloudidada upload server.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/auth"
	"github.com/prn-tf/cloudidada/internal/metrics"
)

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Health    *HealthHandler
	Provision *ProvisionHandler
	Users     *UserHandler
	Files     *FileHandler

	// Resolver authenticates x-api-key requests.
	Resolver auth.UserResolver

	// UploadsDir is served under /uploads when set.
	UploadsDir string

	Metrics    *metrics.Metrics
	Production bool
	Logger     zerolog.Logger
}

// Router handles HTTP routing for the upload API.
type Router struct {
	cfg    RouterConfig
	logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(rt.logger))
	r.Use(instrument(rt.cfg.Metrics))
	r.Use(recoverer(rt.logger, rt.cfg.Production))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, ErrMethodNotAllowed)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", rt.cfg.Health.Health)
		r.Get("/init-db", rt.cfg.Provision.InitDB)

		r.Post("/auth/register", rt.cfg.Users.Register)
		r.Post("/auth/login", rt.cfg.Users.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.APIKeyMiddleware(rt.cfg.Resolver, rt.logger))

			r.Post("/files/upload", rt.cfg.Files.Upload)
			r.Get("/files/list", rt.cfg.Files.List)
			r.Get("/stats", rt.cfg.Files.Stats)
		})
	})

	if rt.cfg.UploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(rt.cfg.UploadsDir))))
	}

	return r
}
