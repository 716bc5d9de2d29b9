// Package api exposes the admin HTTP surface of the cashier process.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/personapack/botsuite/internal/api/handlers"
	"github.com/personapack/botsuite/internal/api/middleware"
	"github.com/personapack/botsuite/internal/config"
)

// NewRouter creates the HTTP router with all admin routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.Admin.APIKeys).Middleware)

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tokens", h.IssueToken)
		r.Get("/access/{userID}/{target}", h.CheckAccess)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/confirm", h.ConfirmOrder)
				r.Post("/reject", h.RejectOrder)
				r.Post("/redeliver", h.RedeliverOrder)
			})
		})

		r.Route("/promos", func(r chi.Router) {
			r.Get("/", h.ListPromos)
			r.Put("/{code}", h.SetPromo)
			r.Delete("/{code}", h.ClearPromo)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "botsuite-cashier",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "botsuite-cashier",
		})
	}
}
