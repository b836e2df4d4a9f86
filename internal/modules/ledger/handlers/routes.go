package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers ledger routes on the router
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/operations", func(r chi.Router) {
		r.Post("/", h.HandleApply)
		r.Get("/", h.HandleListOperations)
		r.Get("/pending", h.HandlePending)
		r.Post("/sweep", h.HandleSweep)
	})

	r.Route("/positions", func(r chi.Router) {
		r.Get("/", h.HandleAggregate)
		r.Get("/{accountID}", h.HandlePositions)
		r.Get("/{accountID}/{code}", h.HandlePosition)
	})

	r.Post("/recalculate", h.HandleRecalculate)
	r.Get("/consistency/{accountID}", h.HandleVerify)
}
