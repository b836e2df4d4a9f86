package database

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Migration is one versioned, additive schema change owned by a module.
// Versions are positive and strictly increasing within a module; applied
// versions are recorded in schema_version and never re-run. Several modules
// can share one database, each migrating under its own module name.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// ApplyMigrations brings the module's tables in db up to the latest version.
// Each pending migration runs in its own transaction together with the
// schema_version bookkeeping row, so a failed migration leaves the version
// marker untouched.
func ApplyMigrations(db *DB, module string, migrations []Migration, log zerolog.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		module TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		applied_at TEXT NOT NULL,
		PRIMARY KEY (module, version)
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table for %s: %w", db.Name(), err)
	}

	current, err := CurrentVersion(db.Conn(), module)
	if err != nil {
		return fmt.Errorf("failed to read schema version for %s/%s: %w", db.Name(), module, err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	applied := 0
	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		m := m
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return fmt.Errorf("migration %s/%d (%s): %w", module, m.Version, m.Name, err)
			}
			_, err := tx.Exec(
				`INSERT INTO schema_version (module, version, name, applied_at) VALUES (?, ?, ?, ?)`,
				module, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to migrate %s: %w", db.Name(), err)
		}
		applied++
		log.Info().
			Str("database", db.Name()).
			Str("module", module).
			Int("version", m.Version).
			Str("migration", m.Name).
			Msg("Applied schema migration")
	}

	if applied == 0 {
		log.Debug().
			Str("database", db.Name()).
			Str("module", module).
			Int("version", current).
			Msg("Schema up to date")
	}

	return nil
}

// CurrentVersion returns the module's highest applied schema version, 0 for
// a fresh database (or one whose schema_version table does not exist yet).
func CurrentVersion(db *sql.DB, module string) (int, error) {
	var exists int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	err = db.QueryRow(`SELECT MAX(version) FROM schema_version WHERE module = ?`, module).Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// InitSchema runs every migration in order against a bare connection without
// version bookkeeping. Intended for in-memory test databases.
func InitSchema(db *sql.DB, migrations []Migration) error {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}
