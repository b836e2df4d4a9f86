package clientdata

import "github.com/aristath/fundfolio/internal/database"

// Migrations describes the provider response tables in cache.db.
// One row per fund code per table; everything here is reproducible.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_provider_tables",
		SQL: `
CREATE TABLE IF NOT EXISTS eastmoney_realtime (
    code TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS eastmoney_history (
    code TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sina_realtime (
    code TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_eastmoney_realtime_expiry ON eastmoney_realtime(expires_at);
CREATE INDEX IF NOT EXISTS idx_eastmoney_history_expiry ON eastmoney_history(expires_at);
CREATE INDEX IF NOT EXISTS idx_sina_realtime_expiry ON sina_realtime(expires_at);
`,
	},
}
