// Package handlers provides HTTP handlers for market hours operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/fundfolio/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// Handler handles market hours HTTP requests
type Handler struct {
	service *market_hours.Service
	log     zerolog.Logger
}

// NewHandler creates a new market hours handler
func NewHandler(service *market_hours.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "market_hours").Logger(),
	}
}

// HandleGetStatus handles GET /api/market-hours/status
// Returns the trading-day status for today.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status(time.Now())

	response := map[string]interface{}{
		"data": status,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetHolidays handles GET /api/market-hours/holidays
// Returns market closure dates, optionally filtered by year.
func (h *Handler) HandleGetHolidays(w http.ResponseWriter, r *http.Request) {
	year := time.Now().Year()
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		parsedYear, err := strconv.Atoi(yearStr)
		if err != nil || parsedYear <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = parsedYear
	}

	closures := h.service.Closures(year)

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"year":     year,
			"closures": closures,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetConfirmationDate handles GET /api/market-hours/confirmation-date
// Resolves the settlement confirmation date for a trade time (RFC3339,
// default now).
func (h *Handler) HandleGetConfirmationDate(w http.ResponseWriter, r *http.Request) {
	var tradeTime time.Time
	if raw := r.URL.Query().Get("trade_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "trade_time must be RFC3339")
			return
		}
		tradeTime = parsed
	}

	confirmation := h.service.ConfirmationDate(tradeTime)

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"confirmation_date": confirmation,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
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
