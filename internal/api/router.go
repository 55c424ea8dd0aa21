package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/telefleet/authgate/internal/metrics"
	"github.com/telefleet/authgate/internal/middleware"
)

// maxRequestBody bounds request bodies. Every payload here is a small
// JSON document.
const maxRequestBody = 1 << 20

// NewRouter builds the full HTTP surface: public token and check
// endpoints plus the key-authenticated admin API.
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)
	r.Use(middleware.HTTPLogging(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.MaxBodySize(maxRequestBody))

	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	// Public surface used by presentation layers, verification
	// collaborators, and downstream bots.
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tokens", h.HandleIssueToken)
		r.Get("/tokens/{id}", h.HandleGetToken)
		r.Post("/tokens/{id}/verify", h.HandleVerifyToken)
		r.Get("/validate", h.HandleValidate)
		r.Post("/check", h.HandleCheck)
	})

	// Admin API (key auth)
	r.Route("/api", func(r chi.Router) {
		r.Use(h.KeyAuthMiddleware)

		r.Post("/loglevel", h.HandleSetLogLevel)

		r.Delete("/tokens/{id}", h.HandleRevokeToken)

		r.Get("/bots", h.HandleListBots)
		r.Post("/bots", h.HandleCreateBot)
		r.Post("/bots/refresh", h.HandleRefreshBots)
		r.Delete("/bots/{key}", h.HandleDeleteBot)
		r.Put("/bots/{key}/status", h.HandleSetBotStatus)

		r.Get("/policy", h.HandleGetPolicy)
		r.Post("/policy/reload", h.HandleReloadPolicy)
		r.Put("/policy/commands/{command}", h.HandleSetCommand)
		r.Delete("/policy/commands/{command}", h.HandleRemoveCommand)

		r.Get("/keys", h.HandleListAdminKeys)
		r.Post("/keys", h.HandleCreateAdminKey)
		r.Delete("/keys/{id}", h.HandleDeleteAdminKey)
	})

	return r
}
