// Package accounts manages bookkeeping accounts: the owners of positions
// and operations. Accounts are flat or one level deep; a parent account
// aggregates its children and never holds positions itself.
package accounts

import "time"

// Account represents a bookkeeping account.
type Account struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"-"` // owner tenant, nil in the global scope
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultAccountName is the name of the account created on first use.
const DefaultAccountName = "default"
