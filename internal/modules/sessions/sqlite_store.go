package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SQLiteStore implements Store on the sessions table in cache.db.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	log zerolog.Logger
}

// NewSQLiteStore creates a session store with the given TTL.
func NewSQLiteStore(db *sql.DB, ttl time.Duration, log zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		ttl: ttl,
		log: log.With().Str("store", "sessions").Logger(),
	}
}

// Create mints a new session for the user.
func (s *SQLiteStore) Create(ctx context.Context, userID int64) (*Session, error) {
	now := time.Now()
	session := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		LastSeen:  now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at, last_seen)
		VALUES (?, ?, ?, ?, ?)`,
		session.Token, session.UserID,
		session.CreatedAt.Unix(), session.ExpiresAt.Unix(), session.LastSeen.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Debug().Int64("user_id", userID).Msg("Session created")
	return session, nil
}

// Get returns the live session for token, or nil when the token is unknown
// or expired. Expired rows are left for the sweep.
func (s *SQLiteStore) Get(ctx context.Context, token string) (*Session, error) {
	var (
		session                        Session
		createdAt, expiresAt, lastSeen int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, created_at, expires_at, last_seen
		FROM sessions WHERE token = ?`, token,
	).Scan(&session.Token, &session.UserID, &createdAt, &expiresAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.ExpiresAt = time.Unix(expiresAt, 0)
	session.LastSeen = time.Unix(lastSeen, 0)

	if session.Expired(time.Now()) {
		return nil, nil
	}
	return &session, nil
}

// Touch updates last_seen and slides the expiry deadline forward. Touching
// an unknown or expired token is a no-op.
func (s *SQLiteStore) Touch(ctx context.Context, token string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_seen = ?, expires_at = ?
		WHERE token = ? AND expires_at > ?`,
		now.Unix(), now.Add(s.ttl).Unix(), token, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Delete removes the session.
func (s *SQLiteStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SweepExpired removes all expired sessions.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept sessions: %w", err)
	}
	return deleted, nil
}
