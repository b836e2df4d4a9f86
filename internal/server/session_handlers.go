package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/modules/sessions"
)

// SessionHandlers mints and revokes bearer-token sessions. Minting is a
// development convenience: production deployments front the API with a real
// login flow and only the logout endpoint stays active.
type SessionHandlers struct {
	store   sessions.Store
	devMode bool
	log     zerolog.Logger
}

// NewSessionHandlers creates session handlers.
func NewSessionHandlers(store sessions.Store, devMode bool, log zerolog.Logger) *SessionHandlers {
	return &SessionHandlers{
		store:   store,
		devMode: devMode,
		log:     log.With().Str("handler", "sessions").Logger(),
	}
}

type createSessionRequest struct {
	UserID int64 `json:"user_id"`
}

// HandleCreate handles POST /api/sessions. Only available in dev mode.
func (h *SessionHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.devMode {
		writeError(h.log, w, http.StatusNotFound, "not found")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.log, w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID <= 0 {
		writeError(h.log, w, http.StatusUnprocessableEntity, "user_id must be positive")
		return
	}

	session, err := h.store.Create(r.Context(), req.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", req.UserID).Msg("Failed to create session")
		writeError(h.log, w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info().Int64("user_id", req.UserID).Msg("Session created")
	writeData(h.log, w, http.StatusCreated, session)
}

// HandleLogout handles DELETE /api/sessions/current. Revoking an unknown
// token still returns 204.
func (h *SessionHandlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(h.log, w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if err := h.store.Delete(r.Context(), token); err != nil {
		h.log.Error().Err(err).Msg("Failed to delete session")
		writeError(h.log, w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
