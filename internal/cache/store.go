// Package cache provides a keyed TTL store over cache.db, used for computed
// series and short-lived provider responses. Values are msgpack-encoded.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Store is a keyed TTL cache backed by SQLite.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new cache store
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "cache").Logger(),
	}
}

// Get decodes the cached value for key into v. It returns false on a miss
// or an expired entry.
func (s *Store) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	var (
		blob      []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&blob, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if time.Now().Unix() >= expiresAt {
		return false, nil
	}
	if err := msgpack.Unmarshal(blob, v); err != nil {
		// A decode failure means the cached shape changed; treat as a miss.
		s.log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		_ = s.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// Set stores v under key for ttl.
func (s *Store) Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	blob, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at`,
		key, blob, time.Now().Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// SweepExpired removes entries past their TTL and returns how many went.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept entries: %w", err)
	}
	if affected > 0 {
		s.log.Debug().Int64("removed", affected).Msg("Swept expired cache entries")
	}
	return int(affected), nil
}
