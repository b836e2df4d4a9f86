package domain

import (
	"errors"
	"fmt"
)

// Validation and lookup failures surfaced synchronously to the caller.
var (
	// ErrValidation - malformed or missing request field
	ErrValidation = errors.New("validation failed")
	// ErrInvalidAmount - buy amount must be positive
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidQuantity - sell shares must be positive and not exceed the holding
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrNoPosition - sell against an instrument with no holding
	ErrNoPosition = errors.New("no position held")
	// ErrNotFound - unknown account, instrument or row
	ErrNotFound = errors.New("not found")
	// ErrOwnership - the resource belongs to a different tenant
	ErrOwnership = errors.New("not owner")
	// ErrDuplicateName - account name already taken within the scope
	ErrDuplicateName = errors.New("name already in use")
	// ErrAggregateAccount - parent accounts aggregate children and cannot
	// hold positions or operations themselves
	ErrAggregateAccount = errors.New("aggregate account cannot hold operations")
	// ErrAccountNotEmpty - accounts holding positions cannot be deleted
	ErrAccountNotEmpty = errors.New("account still holds positions")
	// ErrDefaultAccount - the default account cannot be deleted
	ErrDefaultAccount = errors.New("default account cannot be deleted")
	// ErrProviderUnavailable - valuation provider failed or timed out.
	// Callers treat it exactly like "NAV not yet published".
	ErrProviderUnavailable = errors.New("valuation provider unavailable")
)

// InconsistentStateError reports drift between the cached position and the
// state reproduced by replaying the operation log. It is never swallowed:
// callers log it loudly and suggest a recalculation.
type InconsistentStateError struct {
	AccountID      int64
	Code           string
	CachedShares   float64
	ReplayedShares float64
	CachedCost     float64
	ReplayedCost   float64
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf(
		"position drift for account %d %s: cached %.4f shares @ %.4f, replay %.4f shares @ %.4f",
		e.AccountID, e.Code, e.CachedShares, e.CachedCost, e.ReplayedShares, e.ReplayedCost,
	)
}
