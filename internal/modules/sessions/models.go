// Package sessions manages bearer-token sessions backed by cache.db.
package sessions

import (
	"context"
	"time"
)

// Session is one authenticated session. Tokens are opaque uuids; UserID is
// the tenant the token resolves to.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Expired reports whether the session's deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store is the session lifecycle contract. Implementations own persistence;
// expiry policy (the TTL) is fixed at construction.
type Store interface {
	// Create mints a new session for the user and returns it.
	Create(ctx context.Context, userID int64) (*Session, error)
	// Get returns the live session for token, or nil when the token is
	// unknown or expired.
	Get(ctx context.Context, token string) (*Session, error)
	// Touch updates last_seen and slides the expiry deadline forward.
	Touch(ctx context.Context, token string) error
	// Delete removes the session. Deleting an unknown token is not an error.
	Delete(ctx context.Context, token string) error
	// SweepExpired removes all expired sessions and reports how many.
	SweepExpired(ctx context.Context) (int64, error)
}
