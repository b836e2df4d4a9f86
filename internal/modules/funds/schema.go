package funds

import (
	"database/sql"

	"github.com/aristath/fundfolio/internal/database"
)

// Migrations describes the instrument tables in market.db. fund_history is
// the authoritative NAV archive; everything pending settlement waits on rows
// landing there.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create_funds_history_watchlist",
		SQL: `
CREATE TABLE IF NOT EXISTS funds (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    fund_type TEXT NOT NULL DEFAULT '',
    latest_nav REAL,
    nav_date TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fund_history (
    code TEXT NOT NULL,
    nav_date TEXT NOT NULL,
    nav REAL NOT NULL,
    PRIMARY KEY (code, nav_date)
);

CREATE TABLE IF NOT EXISTS watchlist (
    code TEXT PRIMARY KEY,
    added_at INTEGER NOT NULL
);
`,
	},
	{
		Version: 2,
		Name:    "create_estimates_accuracy",
		SQL: `
CREATE TABLE IF NOT EXISTS intraday_estimates (
    code TEXT NOT NULL,
    estimate_date TEXT NOT NULL,
    estimate REAL NOT NULL,
    estimate_rate REAL NOT NULL,
    as_of INTEGER NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (code, estimate_date)
);

CREATE TABLE IF NOT EXISTS estimate_accuracy (
    code TEXT NOT NULL,
    nav_date TEXT NOT NULL,
    estimate REAL NOT NULL,
    nav REAL NOT NULL,
    error_pct REAL NOT NULL,
    PRIMARY KEY (code, nav_date)
);
`,
	},
}

// InitSchema applies the funds schema to a bare connection (tests).
func InitSchema(db *sql.DB) error {
	return database.InitSchema(db, Migrations)
}
