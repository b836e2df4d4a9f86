package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Column order must match scanPosition.
const positionColumns = `account_id, code, shares, cost, updated_at`

// PositionRepository handles position cache database access. Positions are
// derived from the operation log; every write here happens inside the same
// transaction that settles the operation producing it.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// Get returns the position for an account and instrument, or nil when the
// account holds none.
func (r *PositionRepository) Get(ctx context.Context, accountID int64, code string) (*Position, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = ? AND code = ?`,
		accountID, code)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return pos, nil
}

// ListForAccount returns an account's held positions ordered by instrument.
func (r *PositionRepository) ListForAccount(ctx context.Context, accountID int64) ([]Position, error) {
	return r.list(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE account_id = ? AND shares > 0
		ORDER BY code`, accountID)
}

// ListForAccounts returns held positions across a set of accounts.
func (r *PositionRepository) ListForAccounts(ctx context.Context, accountIDs []int64) ([]Position, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(accountIDs)-1) + "?"
	args := make([]interface{}, len(accountIDs))
	for i, id := range accountIDs {
		args[i] = id
	}
	return r.list(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE shares > 0 AND account_id IN (`+placeholders+`)
		ORDER BY account_id, code`, args...)
}

// HasPositions reports whether the account still holds any shares. Accounts
// with live positions cannot be deleted.
func (r *PositionRepository) HasPositions(ctx context.Context, accountID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM positions WHERE account_id = ? AND shares > 0 LIMIT 1`,
		accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check positions for account %d: %w", accountID, err)
	}
	return true, nil
}

// UpsertTx writes the post-operation state for an account and instrument.
func (r *PositionRepository) UpsertTx(tx *sql.Tx, accountID int64, code string, state FoldState) error {
	_, err := tx.Exec(`
		INSERT INTO positions (account_id, code, shares, cost, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, code) DO UPDATE SET
			shares = excluded.shares,
			cost = excluded.cost,
			updated_at = excluded.updated_at`,
		accountID, code, state.Shares, state.UnitCost, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// DeleteTx removes a cleared position. Selling every share drops the row so
// no stale cost lingers on a zero holding.
func (r *PositionRepository) DeleteTx(tx *sql.Tx, accountID int64, code string) error {
	_, err := tx.Exec(`DELETE FROM positions WHERE account_id = ? AND code = ?`, accountID, code)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// ReplaceAllTx swaps an account's entire position set for the replayed one.
// Recalculation calls this after folding the operation log from zero.
func (r *PositionRepository) ReplaceAllTx(tx *sql.Tx, accountID int64, states map[string]FoldState) error {
	if _, err := tx.Exec(`DELETE FROM positions WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to clear positions for account %d: %w", accountID, err)
	}
	now := time.Now().Unix()
	for code, state := range states {
		if !state.Held() {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO positions (account_id, code, shares, cost, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			accountID, code, state.Shares, state.UnitCost, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert replayed position %s: %w", code, err)
		}
	}
	return nil
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...interface{}) ([]Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

func scanPosition(s rowScanner) (*Position, error) {
	var (
		pos       Position
		updatedAt int64
	)
	if err := s.Scan(&pos.AccountID, &pos.Code, &pos.Shares, &pos.Cost, &updatedAt); err != nil {
		return nil, err
	}
	pos.UpdatedAt = time.Unix(updatedAt, 0)
	return &pos, nil
}
