// Package api exposes the converter over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/observability"
)

// NewRouter creates the API router. Server settings (CORS, rate limit) are
// fixed when the router is built; conversion settings are read per request.
func NewRouter(h *Handler, cfg config.Provider, logger *observability.Logger) http.Handler {
	server := cfg.Current().Server
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/config", h.Config)
	r.Get("/", h.Index)

	r.Group(func(r chi.Router) {
		if server.RateLimit > 0 {
			r.Use(httprate.LimitByIP(server.RateLimit, server.RateWindow))
		}
		r.Post("/convert", h.Convert)
		r.Post("/", h.Convert)
	})

	return r
}
