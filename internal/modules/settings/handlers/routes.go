package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers settings routes on the router
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.HandleGetAll)
		r.Put("/{key}", h.HandlePut)
		r.Delete("/{key}", h.HandleDelete)
	})
}
