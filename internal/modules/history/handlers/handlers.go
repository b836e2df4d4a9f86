// Package handlers provides HTTP handlers for historical valuation series.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/history"
	"github.com/aristath/fundfolio/internal/server/scope"
	"github.com/rs/zerolog"
)

// Handler handles history HTTP requests
type Handler struct {
	service *history.Service
	log     zerolog.Logger
}

// NewHandler creates a new history handler
func NewHandler(service *history.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "history").Logger(),
	}
}

// HandleHistory handles GET /api/history?account_id=N&days=N.
// Returns one row per day, oldest first: a days=N request yields N+1 rows.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	days := h.daysParam(r)

	series, err := h.service.History(r.Context(), scope.FromContext(r.Context()), accountID, days)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, series)
}

// HandleAggregate handles GET /api/history/aggregate?days=N, merging every
// account in the scope into one series.
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	days := h.daysParam(r)

	series, err := h.service.AggregateHistory(r.Context(), scope.FromContext(r.Context()), days)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, series)
}

func (h *Handler) daysParam(r *http.Request) int {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	return days
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrOwnership):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("History query failed")
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
