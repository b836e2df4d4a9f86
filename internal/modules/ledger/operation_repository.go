package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/rs/zerolog"
)

// Column order must match scanOperation.
const operationColumns = `id, account_id, code, kind, value, trade_time, operation_date,
	confirm_date, confirm_nav, shares_delta, shares_after, cost_after, proceeds,
	applied_at, created_at`

// maxOperationPage caps history listings so a huge ledger cannot be pulled
// through one request.
const maxOperationPage = 500

// OperationRepository handles operation log database access.
type OperationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *sql.DB, log zerolog.Logger) *OperationRepository {
	return &OperationRepository{
		db:  db,
		log: log.With().Str("repo", "operations").Logger(),
	}
}

// Insert appends a pending operation. Settled fields stay NULL; the caller
// settles within the same transaction via SettleTx when the NAV is known.
// Sets op.ID and op.CreatedAt.
func (r *OperationRepository) Insert(ctx context.Context, op *Operation) error {
	return r.insert(ctx, r.db, op)
}

// InsertTx is Insert inside an open transaction.
func (r *OperationRepository) InsertTx(tx *sql.Tx, op *Operation) error {
	return r.insert(context.Background(), tx, op)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *OperationRepository) insert(ctx context.Context, db execer, op *Operation) error {
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO operations
		(account_id, code, kind, value, trade_time, operation_date, confirm_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.AccountID,
		strings.TrimSpace(op.Code),
		string(op.Kind),
		op.Value,
		op.TradeTime.Unix(),
		op.OperationDate,
		op.ConfirmDate,
		now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get operation id: %w", err)
	}
	op.ID = id
	op.CreatedAt = now
	return nil
}

// Settlement carries the computed outcome written when an operation settles.
type Settlement struct {
	Nav         float64
	SharesDelta float64
	SharesAfter float64
	CostAfter   float64
	Proceeds    *float64
	AppliedAt   time.Time
}

// SettleTx fills the confirming NAV and resulting state of a pending
// operation. The conditional WHERE keeps the sweep and the interactive path
// from double-applying the same row: it reports false when another writer
// settled it first.
func (r *OperationRepository) SettleTx(tx *sql.Tx, id int64, s Settlement) (bool, error) {
	res, err := tx.Exec(`
		UPDATE operations
		SET confirm_nav = ?, shares_delta = ?, shares_after = ?, cost_after = ?,
		    proceeds = ?, applied_at = ?
		WHERE id = ? AND confirm_nav IS NULL`,
		s.Nav, s.SharesDelta, s.SharesAfter, s.CostAfter, s.Proceeds, s.AppliedAt.Unix(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle operation %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check settle result: %w", err)
	}
	return affected > 0, nil
}

// Get retrieves one operation by id, or domain.ErrNotFound.
func (r *OperationRepository) Get(ctx context.Context, id int64) (*Operation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation %d: %w", id, err)
	}
	return op, nil
}

// ListForAccount returns an account's operations, most recent first.
func (r *OperationRepository) ListForAccount(ctx context.Context, accountID int64, limit int) ([]Operation, error) {
	if limit <= 0 || limit > maxOperationPage {
		limit = maxOperationPage
	}
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM operations
		WHERE account_id = ?
		ORDER BY operation_date DESC, created_at DESC, id DESC
		LIMIT ?`, accountID, limit)
}

// ListForReplay returns every operation for an account dated on or before
// end, in ledger order. Same-date operations fold in creation order; the id
// breaks exact created_at ties deterministically.
func (r *OperationRepository) ListForReplay(ctx context.Context, accountID int64, end string) ([]Operation, error) {
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM operations
		WHERE account_id = ? AND operation_date <= ?
		ORDER BY operation_date ASC, created_at ASC, id ASC`, accountID, end)
}

// ListAllForAccount returns every operation for an account in ledger order.
// Recalculation folds this from zero.
func (r *OperationRepository) ListAllForAccount(ctx context.Context, accountID int64) ([]Operation, error) {
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM operations
		WHERE account_id = ?
		ORDER BY operation_date ASC, created_at ASC, id ASC`, accountID)
}

// ListPending returns operations still awaiting their confirming NAV, in
// ledger order so the sweep settles them the way a replay would fold them.
func (r *OperationRepository) ListPending(ctx context.Context) ([]Operation, error) {
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM operations
		WHERE confirm_nav IS NULL AND confirm_date IS NOT NULL
		ORDER BY operation_date ASC, created_at ASC, id ASC`)
}

// ListPendingForAccounts filters pending operations to a set of accounts.
func (r *OperationRepository) ListPendingForAccounts(ctx context.Context, accountIDs []int64) ([]Operation, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(accountIDs)-1) + "?"
	args := make([]interface{}, len(accountIDs))
	for i, id := range accountIDs {
		args[i] = id
	}
	return r.list(ctx, `
		SELECT `+operationColumns+` FROM operations
		WHERE confirm_nav IS NULL AND confirm_date IS NOT NULL
		  AND account_id IN (`+placeholders+`)
		ORDER BY operation_date ASC, created_at ASC, id ASC`, args...)
}

// OldestPending returns the earliest-created operation still pending, or nil
// when nothing is pending. The system status endpoint reports its age; a NAV
// provider stuck for days shows up there instead of sweeping silently forever.
func (r *OperationRepository) OldestPending(ctx context.Context) (*Operation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+` FROM operations
		WHERE confirm_nav IS NULL AND confirm_date IS NOT NULL
		ORDER BY created_at ASC, id ASC
		LIMIT 1`)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest pending operation: %w", err)
	}
	return op, nil
}

// CountPending returns the number of operations awaiting settlement.
func (r *OperationRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operations WHERE confirm_nav IS NULL AND confirm_date IS NOT NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

func (r *OperationRepository) list(ctx context.Context, query string, args ...interface{}) ([]Operation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(s rowScanner) (*Operation, error) {
	var (
		op         Operation
		kind       string
		tradeTime  int64
		confirmNav sql.NullFloat64
		sharesAft  sql.NullFloat64
		costAft    sql.NullFloat64
		proceeds   sql.NullFloat64
		appliedAt  sql.NullInt64
		createdAt  int64
	)
	err := s.Scan(
		&op.ID, &op.AccountID, &op.Code, &kind, &op.Value, &tradeTime,
		&op.OperationDate, &op.ConfirmDate, &confirmNav, &op.SharesDelta,
		&sharesAft, &costAft, &proceeds, &appliedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	op.Kind = OperationKind(kind)
	op.TradeTime = time.Unix(tradeTime, 0)
	op.CreatedAt = time.Unix(0, createdAt)
	if confirmNav.Valid {
		op.ConfirmNav = &confirmNav.Float64
	}
	if sharesAft.Valid {
		op.SharesAfter = &sharesAft.Float64
	}
	if costAft.Valid {
		op.CostAfter = &costAft.Float64
	}
	if proceeds.Valid {
		op.Proceeds = &proceeds.Float64
	}
	if appliedAt.Valid {
		t := time.Unix(appliedAt.Int64, 0)
		op.AppliedAt = &t
	}
	return &op, nil
}
