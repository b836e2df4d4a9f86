package sessions

import (
	"database/sql"

	"github.com/aristath/fundfolio/internal/database"
)

// Migrations describes the sessions table in cache.db. Losing it only logs
// everyone out.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    last_seen INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);
`,
	},
}

// InitSchema applies the sessions schema to a bare connection (tests).
func InitSchema(db *sql.DB) error {
	return database.InitSchema(db, Migrations)
}
