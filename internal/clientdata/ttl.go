package clientdata

import "time"

// TTL constants for provider response caching.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Realtime estimates move during the trading session; a short TTL keeps
	// the composite provider from hammering upstream on every request.
	TTLRealtime = time.Minute

	// Historical NAV pages only gain one row per trading day. Freshness for
	// the post-close window is enforced by the funds service, not here.
	TTLHistory = 12 * time.Hour
)
