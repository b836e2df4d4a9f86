package settings

import (
	"database/sql"

	"github.com/aristath/fundfolio/internal/database"
)

// Migrations describes the settings table in ledger.db.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_settings",
		SQL: `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    description TEXT,
    updated_at INTEGER NOT NULL
);
`,
	},
}

// InitSchema applies the settings schema to a bare connection (tests).
func InitSchema(db *sql.DB) error {
	return database.InitSchema(db, Migrations)
}
