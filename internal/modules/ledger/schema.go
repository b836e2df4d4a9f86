package ledger

import (
	"database/sql"

	"github.com/aristath/fundfolio/internal/database"
)

// Migrations describes the operation log and position cache in ledger.db.
//
// Operations are append-mostly: one UPDATE settles a pending row, after
// which it is immutable. created_at is Unix nanoseconds so same-day
// operations keep a total creation order; replay sorts on
// (operation_date, created_at, id) and that ordering is load-bearing.
// Version 2 is an additive column, the upgrade path older deployments take.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_operations_positions",
		SQL: `
CREATE TABLE IF NOT EXISTS operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    code TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('buy', 'sell')),
    value REAL NOT NULL,
    trade_time INTEGER NOT NULL,
    operation_date TEXT NOT NULL,
    confirm_date TEXT NOT NULL,
    confirm_nav REAL,
    shares_delta REAL NOT NULL DEFAULT 0,
    shares_after REAL,
    cost_after REAL,
    applied_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_operations_replay
    ON operations(account_id, operation_date, created_at, id);

CREATE INDEX IF NOT EXISTS idx_operations_account_code
    ON operations(account_id, code);

CREATE INDEX IF NOT EXISTS idx_operations_pending
    ON operations(confirm_date) WHERE confirm_nav IS NULL;

CREATE TABLE IF NOT EXISTS positions (
    account_id INTEGER NOT NULL,
    code TEXT NOT NULL,
    shares REAL NOT NULL,
    cost REAL NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (account_id, code)
);
`,
	},
	{
		Version: 2,
		Name:    "add_operation_proceeds",
		SQL:     `ALTER TABLE operations ADD COLUMN proceeds REAL;`,
	},
}

// InitSchema applies the ledger schema to a bare connection (tests).
func InitSchema(db *sql.DB) error {
	return database.InitSchema(db, Migrations)
}
