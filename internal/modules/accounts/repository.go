package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles account database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new account repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

const accountColumns = "id, user_id, name, parent_id, is_default, created_at"

// Create inserts a new account owned by the scope.
// A name collision within the scope returns domain.ErrDuplicateName.
func (r *Repository) Create(ctx context.Context, scope domain.TenantScope, name string, parentID *int64, isDefault bool) (*Account, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, parent_id, is_default, created_at) VALUES (?, ?, ?, ?, ?)`,
		scope.Value(), name, parentID, boolToInt(isDefault), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get account id: %w", err)
	}

	account := &Account{
		ID:        id,
		Name:      name,
		ParentID:  parentID,
		IsDefault: isDefault,
		CreatedAt: now,
	}
	if userID, ok := scope.UserID(); ok {
		account.UserID = &userID
	}
	return account, nil
}

// Get returns an account by id regardless of owner, or domain.ErrNotFound.
// Callers compare the owner against their scope to distinguish ownership
// failures from missing rows.
func (r *Repository) Get(ctx context.Context, id int64) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return account, nil
}

// List returns the scope's accounts ordered by creation.
func (r *Repository) List(ctx context.Context, scope domain.TenantScope) ([]Account, error) {
	cond, args := scope.Filter("user_id")
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+cond+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// Rename updates an account's name.
// A name collision within the scope returns domain.ErrDuplicateName.
func (r *Repository) Rename(ctx context.Context, id int64, name string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateName
		}
		return fmt.Errorf("failed to rename account %d: %w", id, err)
	}
	return nil
}

// Delete removes an account row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// HasChildren reports whether any account references id as parent.
func (r *Repository) HasChildren(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE parent_id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count children of account %d: %w", id, err)
	}
	return count > 0, nil
}

// Children returns the child accounts of a parent.
func (r *Repository) Children(ctx context.Context, parentID int64) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE parent_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// Resolve returns the owner and whether the account is a leaf (bookkeeping)
// account. Parent accounts aggregate children and hold nothing themselves.
func (r *Repository) Resolve(ctx context.Context, id int64) (owner *int64, leaf bool, err error) {
	account, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	hasChildren, err := r.HasChildren(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return account.UserID, !hasChildren, nil
}

// ChildIDs lists the ids of a parent's children.
func (r *Repository) ChildIDs(ctx context.Context, parentID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM accounts WHERE parent_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating child ids: %w", err)
	}
	return ids, nil
}

// IDs lists the scope's leaf account ids.
func (r *Repository) IDs(ctx context.Context, scope domain.TenantScope) ([]int64, error) {
	cond, args := scope.Filter("user_id")
	query := `SELECT id FROM accounts a WHERE ` + cond + `
		AND NOT EXISTS (SELECT 1 FROM accounts c WHERE c.parent_id = a.id)
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list account ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account ids: %w", err)
	}
	return ids, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanAccount.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s scanner) (*Account, error) {
	var (
		account   Account
		userID    sql.NullInt64
		parentID  sql.NullInt64
		isDefault int
		createdAt string
	)
	if err := s.Scan(&account.ID, &userID, &account.Name, &parentID, &isDefault, &createdAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		account.UserID = &userID.Int64
	}
	if parentID.Valid {
		account.ParentID = &parentID.Int64
	}
	account.IsDefault = isDefault != 0
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		account.CreatedAt = t
	}
	return &account, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
