package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers history routes on the router
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.HandleHistory)
		r.Get("/aggregate", h.HandleAggregate)
	})
}
