package accounts

import (
	"database/sql"

	"github.com/aristath/fundfolio/internal/database"
)

// Migrations describes the accounts tables in ledger.db.
// The owner column is NULL for rows created in the global scope; the unique
// index coalesces it so global-scope names stay unique too.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_accounts",
		SQL: `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER,
    name TEXT NOT NULL,
    parent_id INTEGER REFERENCES accounts(id),
    is_default INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_owner_name
    ON accounts(COALESCE(user_id, -1), name);

CREATE INDEX IF NOT EXISTS idx_accounts_parent ON accounts(parent_id);
`,
	},
}

// InitSchema applies the accounts schema to a bare connection (tests).
func InitSchema(db *sql.DB) error {
	return database.InitSchema(db, Migrations)
}
