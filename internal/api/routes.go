package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured.
// The /api/v1 management routes are mounted only when an API key is set.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Public routes: the board cannot authenticate its notifications.
	r.Get("/", h.Health)
	r.Get("/health", h.Health)
	r.Post("/webhook/monday", h.Webhook)
	r.Post("/webhook", h.Webhook)

	if h.debug {
		r.HandleFunc("/debug", h.Debug)
	}

	if h.apiKey != "" {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Post("/reconcile", h.Reconcile)
			r.Get("/writecache", h.WriteCache)
			r.Get("/writecache/backup", h.BackupURL)
		})
	}

	return r
}
