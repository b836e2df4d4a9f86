package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// AccountDirectory is the slice of the accounts module the ledger needs.
// Defined here to avoid a circular dependency with the accounts module.
type AccountDirectory interface {
	// Resolve returns the account's owner and whether it is a leaf
	// (bookkeeping) account, or domain.ErrNotFound.
	Resolve(ctx context.Context, id int64) (owner *int64, leaf bool, err error)
	// IDs lists the scope's leaf account ids.
	IDs(ctx context.Context, scope domain.TenantScope) ([]int64, error)
	// ChildIDs lists the leaf ids under a parent account.
	ChildIDs(ctx context.Context, parentID int64) ([]int64, error)
}

// NavSource is the slice of the funds module the ledger needs. NavOn returns
// ok=false both for "not yet published" and for a failed or timed-out
// provider; per the settlement design those are the same thing, the
// operation goes pending and the sweep retries. The error return is for
// storage failures only.
type NavSource interface {
	EnsureTracked(ctx context.Context, code string) error
	NavOn(ctx context.Context, code, date string) (nav float64, ok bool, err error)
}

// ApplyInput is one trade submission. Value carries a currency amount for
// buys and a share quantity for sells. A zero TradeTime means "now".
type ApplyInput struct {
	AccountID int64
	Code      string
	Kind      OperationKind
	Value     float64
	TradeTime time.Time
}

// PendingStatus reports settlement sweep observability. A stuck NAV provider
// shows up as a growing oldest age instead of sweeping silently forever.
type PendingStatus struct {
	Count             int      `json:"count"`
	OldestID          *int64   `json:"oldest_id,omitempty"`
	OldestConfirmDate string   `json:"oldest_confirm_date,omitempty"`
	OldestAgeHours    *float64 `json:"oldest_age_hours,omitempty"`
}

// Service owns the operation log and the position cache built from it.
type Service struct {
	db        *sql.DB
	ops       *OperationRepository
	positions *PositionRepository
	accounts  AccountDirectory
	navs      NavSource
	resolver  *market_hours.Resolver
	locks     *accountLocks
	log       zerolog.Logger
}

// NewService creates a new ledger service
func NewService(
	db *sql.DB,
	ops *OperationRepository,
	positions *PositionRepository,
	accounts AccountDirectory,
	navs NavSource,
	resolver *market_hours.Resolver,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:        db,
		ops:       ops,
		positions: positions,
		accounts:  accounts,
		navs:      navs,
		resolver:  resolver,
		locks:     newAccountLocks(),
		log:       log.With().Str("service", "ledger").Logger(),
	}
}

// Apply records one buy or sell against an account and instrument. When the
// confirmation date's NAV is already published the position updates
// synchronously and the result is confirmed; otherwise the operation is
// persisted pending and settled later by the sweep.
func (s *Service) Apply(ctx context.Context, scope domain.TenantScope, in ApplyInput) (*ApplyResult, error) {
	in.Code = strings.TrimSpace(in.Code)
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind must be buy or sell", domain.ErrValidation)
	}
	if in.Code == "" {
		return nil, fmt.Errorf("%w: instrument code required", domain.ErrValidation)
	}
	if in.Value <= 0 {
		if in.Kind == KindBuy {
			return nil, fmt.Errorf("%w: buy amount must be positive", domain.ErrInvalidAmount)
		}
		return nil, fmt.Errorf("%w: sell quantity must be positive", domain.ErrInvalidQuantity)
	}

	if err := s.authorizeLeaf(ctx, scope, in.AccountID); err != nil {
		return nil, err
	}
	if in.Kind == KindBuy {
		if err := s.navs.EnsureTracked(ctx, in.Code); err != nil {
			return nil, err
		}
	}
	if in.TradeTime.IsZero() {
		in.TradeTime = time.Now()
	}

	unlock := s.locks.lockKey(in.AccountID, in.Code)
	defer unlock()

	current, err := s.currentState(ctx, in.AccountID, in.Code)
	if err != nil {
		return nil, err
	}
	if in.Kind == KindSell {
		if !current.Held() {
			return nil, domain.ErrNoPosition
		}
		if in.Value > current.Shares {
			return nil, fmt.Errorf("%w: %.4f shares held, %.4f requested",
				domain.ErrInvalidQuantity, current.Shares, in.Value)
		}
	}

	confirmDate := s.resolver.ConfirmationDateString(in.TradeTime)
	op := &Operation{
		AccountID:     in.AccountID,
		Code:          in.Code,
		Kind:          in.Kind,
		Value:         in.Value,
		TradeTime:     in.TradeTime,
		OperationDate: domain.FormatDate(in.TradeTime),
		ConfirmDate:   confirmDate,
	}

	nav, known, err := s.navs.NavOn(ctx, in.Code, confirmDate)
	if err != nil {
		return nil, err
	}
	if !known {
		if err := s.ops.Insert(ctx, op); err != nil {
			return nil, err
		}
		s.log.Info().
			Int64("operation_id", op.ID).
			Int64("account_id", in.AccountID).
			Str("code", in.Code).
			Str("kind", string(in.Kind)).
			Str("confirm_date", confirmDate).
			Msg("Operation pending, NAV not yet published")
		return &ApplyResult{
			Status:      StatusPending,
			OperationID: op.ID,
			ConfirmDate: confirmDate,
		}, nil
	}

	settlement, next := settle(current, in.Kind, in.Value, nav)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.ops.InsertTx(tx, op); err != nil {
			return err
		}
		applied, err := s.ops.SettleTx(tx, op.ID, settlement)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("operation %d vanished before settlement", op.ID)
		}
		return s.writePositionTx(tx, in.AccountID, in.Code, next)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("operation_id", op.ID).
		Int64("account_id", in.AccountID).
		Str("code", in.Code).
		Str("kind", string(in.Kind)).
		Float64("nav", nav).
		Float64("shares_after", settlement.SharesAfter).
		Msg("Operation confirmed")

	return &ApplyResult{
		Status:      StatusConfirmed,
		OperationID: op.ID,
		ConfirmDate: confirmDate,
		Nav:         &settlement.Nav,
		SharesAfter: &settlement.SharesAfter,
		CostAfter:   &settlement.CostAfter,
		Proceeds:    settlement.Proceeds,
	}, nil
}

// settle runs the buy/sell math from one current state. The same function
// serves the interactive path and the sweep so they cannot diverge.
func settle(current FoldState, kind OperationKind, value, nav float64) (Settlement, FoldState) {
	st := Settlement{Nav: nav, AppliedAt: time.Now()}
	var next FoldState
	if kind == KindBuy {
		st.SharesDelta = BuyShares(value, nav)
		next = current.ApplyBuy(nav, st.SharesDelta)
	} else {
		st.SharesDelta = value
		next = current.ApplySell(value)
		proceeds := SellProceeds(value, nav)
		st.Proceeds = &proceeds
	}
	st.SharesAfter = next.Shares
	st.CostAfter = next.UnitCost
	return st, next
}

// SweepPending retries every operation still awaiting its confirming NAV and
// returns how many settled. Operations whose NAV is still unpublished stay
// pending for the next sweep; there is no retry cap.
func (s *Service) SweepPending(ctx context.Context) (int, error) {
	pending, err := s.ops.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	applied := 0
	for i := range pending {
		settled, err := s.settlePending(ctx, &pending[i])
		if err != nil {
			s.log.Error().Err(err).
				Int64("operation_id", pending[i].ID).
				Msg("Failed to settle pending operation")
			continue
		}
		if settled {
			applied++
		}
	}
	if applied > 0 {
		s.log.Info().
			Int("applied", applied).
			Int("still_pending", len(pending)-applied).
			Msg("Settlement sweep applied operations")
	}
	return applied, nil
}

func (s *Service) settlePending(ctx context.Context, op *Operation) (bool, error) {
	nav, known, err := s.navs.NavOn(ctx, op.Code, op.ConfirmDate)
	if err != nil {
		return false, err
	}
	if !known {
		return false, nil
	}

	unlock := s.locks.lockKey(op.AccountID, op.Code)
	defer unlock()

	// Settlement prices against the current position, not the position at
	// trade time. Drift from intervening operations is what Recalculate
	// repairs.
	current, err := s.currentState(ctx, op.AccountID, op.Code)
	if err != nil {
		return false, err
	}

	settlement, next := settle(current, op.Kind, op.Value, nav)
	settled := false
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		won, err := s.ops.SettleTx(tx, op.ID, settlement)
		if err != nil {
			return err
		}
		if !won {
			// Another writer settled it first; touch nothing.
			return nil
		}
		settled = true
		return s.writePositionTx(tx, op.AccountID, op.Code, next)
	})
	if err != nil {
		return false, err
	}
	if settled {
		s.log.Info().
			Int64("operation_id", op.ID).
			Str("code", op.Code).
			Str("confirm_date", op.ConfirmDate).
			Float64("nav", nav).
			Msg("Pending operation settled")
	}
	return settled, nil
}

// PendingStatus reports how many operations await settlement and the age of
// the oldest one.
func (s *Service) PendingStatus(ctx context.Context) (*PendingStatus, error) {
	count, err := s.ops.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	status := &PendingStatus{Count: count}
	if count == 0 {
		return status, nil
	}
	oldest, err := s.ops.OldestPending(ctx)
	if err != nil {
		return nil, err
	}
	if oldest != nil {
		age := time.Since(oldest.CreatedAt).Hours()
		status.OldestID = &oldest.ID
		status.OldestConfirmDate = oldest.ConfirmDate
		status.OldestAgeHours = &age
	}
	return status, nil
}

// GetPosition returns the cached position for an account and instrument, or
// nil when the account holds none.
func (s *Service) GetPosition(ctx context.Context, scope domain.TenantScope, accountID int64, code string) (*Position, error) {
	if err := s.authorize(ctx, scope, accountID); err != nil {
		return nil, err
	}
	return s.positions.Get(ctx, accountID, strings.TrimSpace(code))
}

// ListPositions returns a leaf account's held positions.
func (s *Service) ListPositions(ctx context.Context, scope domain.TenantScope, accountID int64) ([]Position, error) {
	if err := s.authorize(ctx, scope, accountID); err != nil {
		return nil, err
	}
	return s.positions.ListForAccount(ctx, accountID)
}

// Aggregate merges positions per instrument. With no account it covers every
// leaf account in the scope; with a parent account it covers the parent's
// children; with a leaf account just that account. Cost is the
// share-weighted average across the merged accounts.
func (s *Service) Aggregate(ctx context.Context, scope domain.TenantScope, accountID *int64) ([]AggregatedPosition, error) {
	var (
		ids []int64
		err error
	)
	if accountID == nil {
		ids, err = s.accounts.IDs(ctx, scope)
	} else {
		var leaf bool
		if leaf, err = s.authorizeResolve(ctx, scope, *accountID); err == nil {
			if leaf {
				ids = []int64{*accountID}
			} else {
				ids, err = s.accounts.ChildIDs(ctx, *accountID)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	positions, err := s.positions.ListForAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*AggregatedPosition)
	basis := make(map[string]float64)
	for i := range positions {
		p := &positions[i]
		agg, ok := merged[p.Code]
		if !ok {
			agg = &AggregatedPosition{Code: p.Code}
			merged[p.Code] = agg
		}
		agg.Shares = domain.Round4(agg.Shares + p.Shares)
		agg.Accounts++
		basis[p.Code] += p.Shares * p.Cost
	}

	result := make([]AggregatedPosition, 0, len(merged))
	for code, agg := range merged {
		if agg.Shares > 0 {
			agg.Cost = domain.Round4(basis[code] / agg.Shares)
		}
		result = append(result, *agg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// ListOperations returns an account's operation history, most recent first.
func (s *Service) ListOperations(ctx context.Context, scope domain.TenantScope, accountID int64, limit int) ([]Operation, error) {
	if err := s.authorize(ctx, scope, accountID); err != nil {
		return nil, err
	}
	return s.ops.ListForAccount(ctx, accountID, limit)
}

// ListPendingOperations returns the scope's operations awaiting settlement.
func (s *Service) ListPendingOperations(ctx context.Context, scope domain.TenantScope) ([]Operation, error) {
	ids, err := s.accounts.IDs(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.ops.ListPendingForAccounts(ctx, ids)
}

// Recalculate discards the position cache and rebuilds it by replaying the
// operation log from zero. With no account it rebuilds every leaf account in
// the scope. This is the authoritative repair for drift or corruption.
func (s *Service) Recalculate(ctx context.Context, scope domain.TenantScope, accountID *int64) error {
	var ids []int64
	if accountID == nil {
		all, err := s.accounts.IDs(ctx, scope)
		if err != nil {
			return err
		}
		ids = all
	} else {
		leaf, err := s.authorizeResolve(ctx, scope, *accountID)
		if err != nil {
			return err
		}
		if leaf {
			ids = []int64{*accountID}
		} else {
			children, err := s.accounts.ChildIDs(ctx, *accountID)
			if err != nil {
				return err
			}
			ids = children
		}
	}

	for _, id := range ids {
		if err := s.recalculateAccount(ctx, id); err != nil {
			return fmt.Errorf("failed to recalculate account %d: %w", id, err)
		}
	}
	return nil
}

func (s *Service) recalculateAccount(ctx context.Context, accountID int64) error {
	unlock := s.locks.lockAccount(accountID)
	defer unlock()

	ops, err := s.ops.ListAllForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	states := Fold(ops)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return s.positions.ReplaceAllTx(tx, accountID, states)
	})
	if err != nil {
		return err
	}
	s.log.Info().
		Int64("account_id", accountID).
		Int("operations", len(ops)).
		Int("instruments", len(states)).
		Msg("Positions rebuilt from operation log")
	return nil
}

// VerifyConsistency replays an account's operation log and compares the fold
// against the cached positions, reporting one entry per drifted instrument.
// Drift is logged loudly and repaired by Recalculate; it mutates nothing.
func (s *Service) VerifyConsistency(ctx context.Context, scope domain.TenantScope, accountID int64) ([]*domain.InconsistentStateError, error) {
	if err := s.authorize(ctx, scope, accountID); err != nil {
		return nil, err
	}

	ops, err := s.ops.ListAllForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	replayed := Fold(ops)

	cached, err := s.positions.ListForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var drifts []*domain.InconsistentStateError
	seen := make(map[string]bool)
	for i := range cached {
		p := &cached[i]
		seen[p.Code] = true
		state := replayed[p.Code]
		if p.Shares != state.Shares || p.Cost != state.UnitCost {
			drifts = append(drifts, &domain.InconsistentStateError{
				AccountID:      accountID,
				Code:           p.Code,
				CachedShares:   p.Shares,
				ReplayedShares: state.Shares,
				CachedCost:     p.Cost,
				ReplayedCost:   state.UnitCost,
			})
		}
	}
	for code, state := range replayed {
		if !seen[code] {
			drifts = append(drifts, &domain.InconsistentStateError{
				AccountID:      accountID,
				Code:           code,
				ReplayedShares: state.Shares,
				ReplayedCost:   state.UnitCost,
			})
		}
	}

	for _, d := range drifts {
		s.log.Error().
			Int64("account_id", d.AccountID).
			Str("code", d.Code).
			Float64("cached_shares", d.CachedShares).
			Float64("replayed_shares", d.ReplayedShares).
			Msg("Position drift detected, recalculation recommended")
	}
	return drifts, nil
}

// HasPositions satisfies the accounts module's deletion guard.
func (s *Service) HasPositions(ctx context.Context, accountID int64) (bool, error) {
	return s.positions.HasPositions(ctx, accountID)
}

func (s *Service) currentState(ctx context.Context, accountID int64, code string) (FoldState, error) {
	pos, err := s.positions.Get(ctx, accountID, code)
	if err != nil {
		return FoldState{}, err
	}
	if pos == nil {
		return FoldState{}, nil
	}
	return FoldState{Shares: pos.Shares, UnitCost: pos.Cost}, nil
}

func (s *Service) writePositionTx(tx *sql.Tx, accountID int64, code string, state FoldState) error {
	if !state.Held() {
		return s.positions.DeleteTx(tx, accountID, code)
	}
	return s.positions.UpsertTx(tx, accountID, code, state)
}

// authorize verifies the scope owns the account.
func (s *Service) authorize(ctx context.Context, scope domain.TenantScope, accountID int64) error {
	_, err := s.authorizeResolve(ctx, scope, accountID)
	return err
}

// authorizeLeaf additionally rejects parent accounts, which aggregate
// children and hold no operations of their own.
func (s *Service) authorizeLeaf(ctx context.Context, scope domain.TenantScope, accountID int64) error {
	leaf, err := s.authorizeResolve(ctx, scope, accountID)
	if err != nil {
		return err
	}
	if !leaf {
		return domain.ErrAggregateAccount
	}
	return nil
}

func (s *Service) authorizeResolve(ctx context.Context, scope domain.TenantScope, accountID int64) (bool, error) {
	owner, leaf, err := s.accounts.Resolve(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !scope.Owns(owner) {
		return false, domain.ErrOwnership
	}
	return leaf, nil
}
