// Package router provides HTTP routing configuration using Chi.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/capolicy/internal/api/handler"
	"github.com/remiblancher/capolicy/internal/api/middleware"
	"github.com/remiblancher/capolicy/internal/service"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Config holds router configuration.
type Config struct {
	Service *service.Service
	Version string
	Logger  *slog.Logger

	// Services selects "api", "ocsp" or "all" (the default).
	Services []string

	MaxBodyBytes int64
}

// HasService checks if a service is enabled.
func (c *Config) HasService(name string) bool {
	if len(c.Services) == 0 {
		return true
	}
	for _, s := range c.Services {
		if s == "all" || s == name {
			return true
		}
	}
	return false
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.MaxBody(maxBody))

	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.Service)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if cfg.HasService("api") {
		caHandler := handler.NewCAHandler(cfg.Service, logger)
		profileHandler := handler.NewProfileHandler(cfg.Service, logger)
		certHandler := handler.NewCertHandler(cfg.Service, logger)
		crlHandler := handler.NewCRLHandler(cfg.Service, logger)
		ocspHandler := handler.NewOCSPHandler(cfg.Service, logger)

		r.Route("/api/v1/cas", func(r chi.Router) {
			r.Get("/", caHandler.List)
			r.Route("/{ca}", func(r chi.Router) {
				r.Get("/", caHandler.Get)

				r.Route("/profiles", func(r chi.Router) {
					r.Get("/", profileHandler.List)
					r.Get("/{name}", profileHandler.Get)
					r.Put("/{name}", profileHandler.Put)
				})

				r.Post("/resolve", certHandler.Resolve)
				r.Post("/issue", certHandler.Issue)

				r.Post("/revoke", crlHandler.Revoke)
				r.Post("/unrevoke", crlHandler.Unrevoke)
				r.Get("/crl", crlHandler.State)
				r.Post("/crl", crlHandler.Generate)

				r.Post("/ocsp", ocspHandler.Query)
			})
		})
	}

	// RFC 6960 responder, without auth, for standard clients.
	if cfg.HasService("ocsp") {
		ocspHandler := handler.NewOCSPHandler(cfg.Service, logger)
		r.Post("/ocsp", ocspHandler.Post)
		r.Get("/ocsp/*", ocspHandler.Get)
	}

	return r
}
