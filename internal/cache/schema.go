package cache

import (
	"database/sql"

	"github.com/aristath/fundfolio/internal/database"
)

// Migrations describes the keyed TTL store in cache.db. Values are opaque
// msgpack blobs; everything here is reproducible and safe to lose.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_cache_entries",
		SQL: `
CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expiry ON cache_entries(expires_at);
`,
	},
}

// InitSchema applies the cache schema to a bare connection (tests).
func InitSchema(db *sql.DB) error {
	return database.InitSchema(db, Migrations)
}
