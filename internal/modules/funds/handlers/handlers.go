// Package handlers provides HTTP handlers for the funds module.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/funds"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles fund HTTP requests
type Handler struct {
	service        *funds.Service
	streamInterval time.Duration
	log            zerolog.Logger
}

// NewHandler creates a new funds handler
func NewHandler(service *funds.Service, streamInterval time.Duration, log zerolog.Logger) *Handler {
	if streamInterval <= 0 {
		streamInterval = 15 * time.Second
	}
	return &Handler{
		service:        service,
		streamInterval: streamInterval,
		log:            log.With().Str("handler", "funds").Logger(),
	}
}

type trackRequest struct {
	Code string `json:"code"`
}

// HandleTrack starts tracking a fund code.
func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.service.EnsureTracked(r.Context(), req.Code); err != nil {
		h.writeServiceError(w, err)
		return
	}
	fund, err := h.service.Get(r.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, fund)
}

// HandleList returns all tracked funds.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, list)
}

// HandleGet returns one tracked fund.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	fund, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, fund)
}

// HandleSearch returns tracked funds matching ?q by code or name.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, list)
}

// HandleDelete stops tracking a fund.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHistory returns archived NAVs for a fund, oldest first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.History(r.Context(), chi.URLParam(r, "code"), h.queryInt(r, "days", 90))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, points)
}

// HandleIndicators returns moving averages, RSI and risk statistics.
func (h *Handler) HandleIndicators(w http.ResponseWriter, r *http.Request) {
	ind, err := h.service.Indicators(r.Context(), chi.URLParam(r, "code"), h.queryInt(r, "days", 90))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, ind)
}

// HandleEstimate returns the current quote with any intraday estimate.
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	quote, err := h.service.Estimate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, quote)
}

// HandleAccuracy returns recent estimate-vs-NAV accuracy points.
func (h *Handler) HandleAccuracy(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.AccuracyHistory(r.Context(), chi.URLParam(r, "code"), h.queryInt(r, "limit", 30))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, points)
}

// HandleRefresh tops up the NAV archive for every tracked fund.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.RefreshNavs(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]int{"new_navs": updated})
}

// HandleWatchlist returns the watched funds.
func (h *Handler) HandleWatchlist(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Watchlist(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, list)
}

// HandleWatch adds a fund to the watchlist, tracking it first if needed.
func (h *Handler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.service.Watch(r.Context(), req.Code); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, map[string]string{"code": strings.TrimSpace(req.Code)})
}

// HandleUnwatch removes a fund from the watchlist.
func (h *Handler) HandleUnwatch(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unwatch(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]bool{"removed": true})
}

func (h *Handler) queryInt(r *http.Request, param string, fallback int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "valuation provider unavailable")
	default:
		h.log.Error().Err(err).Msg("Fund request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
