package funds

import (
	"context"
	"time"
)

// Fund is a tracked instrument. Identity is the platform code; the row also
// caches the most recently published NAV so listings don't scan history.
type Fund struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	LatestNav *float64  `json:"latest_nav,omitempty"`
	NavDate   string    `json:"nav_date,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NavPoint is one published NAV.
type NavPoint struct {
	Date string  `json:"date"`
	Nav  float64 `json:"nav"`
}

// Quote is a provider's best-effort view of a fund right now: the last
// official NAV plus, during trading hours, an unofficial intraday estimate.
// Estimate fields are nil when the provider had none.
type Quote struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Nav          float64   `json:"nav"`
	NavDate      string    `json:"nav_date"`
	Estimate     *float64  `json:"estimate,omitempty"`
	EstimateRate *float64  `json:"estimate_rate,omitempty"`
	AsOf         time.Time `json:"as_of"`
	Source       string    `json:"source"`
}

// AccuracyPoint compares the day's last intraday estimate against the NAV
// published afterwards.
type AccuracyPoint struct {
	Code     string  `json:"code"`
	Date     string  `json:"date"`
	Estimate float64 `json:"estimate"`
	Nav      float64 `json:"nav"`
	ErrorPct float64 `json:"error_pct"`
}

// ValuationProvider fetches a real-time quote for a fund code. A nil quote
// with a nil error means the provider does not know the code.
type ValuationProvider interface {
	Fetch(ctx context.Context, code string) (*Quote, error)
	Name() string
}

// HistoricalNavProvider fetches published NAVs over a date range. Absent
// dates mean "not yet published", never zero.
type HistoricalNavProvider interface {
	FetchRange(ctx context.Context, code, start, end string) (map[string]float64, error)
}
