package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all fund and watchlist routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/funds", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleTrack)
		r.Post("/refresh", h.HandleRefresh)
		r.Get("/search", h.HandleSearch)
		r.Get("/{code}", h.HandleGet)
		r.Delete("/{code}", h.HandleDelete)
		r.Get("/{code}/history", h.HandleHistory)
		r.Get("/{code}/indicators", h.HandleIndicators)
		r.Get("/{code}/estimate", h.HandleEstimate)
		r.Get("/{code}/accuracy", h.HandleAccuracy)
	})

	r.Route("/watchlist", func(r chi.Router) {
		r.Get("/", h.HandleWatchlist)
		r.Post("/", h.HandleWatch)
		r.Delete("/{code}", h.HandleUnwatch)
		r.Get("/stream", h.HandleStream)
	})
}
