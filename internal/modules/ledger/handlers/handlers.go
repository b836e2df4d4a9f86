// Package handlers provides HTTP handlers for ledger operations and
// positions.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/ledger"
	"github.com/aristath/fundfolio/internal/server/scope"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *ledger.Service
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

type applyRequest struct {
	AccountID int64   `json:"account_id"`
	Code      string  `json:"code"`
	Kind      string  `json:"kind"`
	Value     float64 `json:"value"`
	TradeTime string  `json:"trade_time,omitempty"`
}

type recalculateRequest struct {
	AccountID *int64 `json:"account_id"`
}

// HandleApply handles POST /api/operations. Confirmed operations return 201;
// operations awaiting their confirmation date's NAV return 202 with a
// pending result.
func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	in := ledger.ApplyInput{
		AccountID: req.AccountID,
		Code:      req.Code,
		Kind:      ledger.OperationKind(req.Kind),
		Value:     req.Value,
	}
	if req.TradeTime != "" {
		t, err := time.Parse(time.RFC3339, req.TradeTime)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "trade_time must be RFC3339")
			return
		}
		in.TradeTime = t
	}

	result, err := h.service.Apply(r.Context(), scope.FromContext(r.Context()), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Status == ledger.StatusPending {
		status = http.StatusAccepted
	}
	h.writeData(w, status, result)
}

// HandleListOperations handles GET /api/operations?account_id=N&limit=N
func (h *Handler) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ops, err := h.service.ListOperations(r.Context(), scope.FromContext(r.Context()), accountID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, ops)
}

// HandlePending handles GET /api/operations/pending
func (h *Handler) HandlePending(w http.ResponseWriter, r *http.Request) {
	requestScope := scope.FromContext(r.Context())
	ops, err := h.service.ListPendingOperations(r.Context(), requestScope)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status, err := h.service.PendingStatus(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"status":     status,
	})
}

// HandleSweep handles POST /api/operations/sweep, running a settlement sweep
// immediately instead of waiting for the schedule.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	applied, err := h.service.SweepPending(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]int{"applied": applied})
}

// HandleAggregate handles GET /api/positions?account_id=N. Without an
// account it merges every position in the scope; a parent account merges its
// children.
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	var accountID *int64
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		accountID = &id
	}

	positions, err := h.service.Aggregate(r.Context(), scope.FromContext(r.Context()), accountID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, positions)
}

// HandlePositions handles GET /api/positions/{accountID}
func (h *Handler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	positions, err := h.service.ListPositions(r.Context(), scope.FromContext(r.Context()), accountID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, positions)
}

// HandlePosition handles GET /api/positions/{accountID}/{code}. A null body
// means the account holds no shares of the instrument.
func (h *Handler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	position, err := h.service.GetPosition(r.Context(), scope.FromContext(r.Context()), accountID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, position)
}

// HandleRecalculate handles POST /api/recalculate. Without an account id it
// rebuilds every account in the scope.
func (h *Handler) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := h.service.Recalculate(r.Context(), scope.FromContext(r.Context()), req.AccountID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]bool{"recalculated": true})
}

// HandleVerify handles GET /api/consistency/{accountID}, comparing the
// cached positions against a fresh replay of the operation log.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathID(w, r, "accountID")
	if !ok {
		return
	}
	drifts, err := h.service.VerifyConsistency(r.Context(), scope.FromContext(r.Context()), accountID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	report := make([]map[string]interface{}, 0, len(drifts))
	for _, d := range drifts {
		report = append(report, map[string]interface{}{
			"code":            d.Code,
			"cached_shares":   d.CachedShares,
			"replayed_shares": d.ReplayedShares,
			"cached_cost":     d.CachedCost,
			"replayed_cost":   d.ReplayedCost,
		})
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"consistent": len(drifts) == 0,
		"drifts":     report,
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

// writeServiceError maps domain errors onto HTTP statuses. Ownership and
// missing rows share one response shape so callers cannot probe for
// resources belonging to other tenants.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrOwnership):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrNoPosition),
		errors.Is(err, domain.ErrAggregateAccount):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("Ledger operation failed")
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
