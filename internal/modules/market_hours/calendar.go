// Package market_hours provides trading-day rules for the mainland China
// fund market: the closure calendar, nearest-trading-day lookups, and
// cutoff-based settlement date resolution.
package market_hours

import (
	"time"

	"github.com/aristath/fundfolio/internal/domain"
)

// maxLookback bounds the backward walk when searching for a trading day.
// No real closure streak comes close; the input date is returned if the
// bound is ever hit.
const maxLookback = 30

// Calendar answers trading-day questions. A date is a trading day when it
// falls on Monday through Friday and is not a designated closure. Weekend
// makeup workdays stay non-trading: the exchange does not open on weekends
// regardless of the state workday schedule.
type Calendar struct {
	closures map[string]bool
}

// NewCalendar builds a calendar from the embedded closure table plus any
// extra closure dates ("2006-01-02"), which tests and deployments tracking
// ad-hoc halts can inject.
func NewCalendar(extraClosures ...string) *Calendar {
	closures := make(map[string]bool, len(marketClosures)+len(extraClosures))
	for _, d := range marketClosures {
		closures[d] = true
	}
	for _, d := range extraClosures {
		closures[d] = true
	}
	return &Calendar{closures: closures}
}

// IsTradingDay reports whether the market is open on the given date.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.closures[domain.FormatDate(t)]
}

// LastTradingDay walks backward from t to the nearest trading day, t itself
// included. The walk is bounded by maxLookback days; if nothing is found the
// input date is returned unchanged.
func (c *Calendar) LastTradingDay(t time.Time) time.Time {
	current := domain.DayStart(t)
	for i := 0; i < maxLookback; i++ {
		if c.IsTradingDay(current) {
			return current
		}
		current = current.AddDate(0, 0, -1)
	}
	return domain.DayStart(t)
}

// NextTradingDay walks forward from t to the nearest trading day, t itself
// excluded. Bounded like LastTradingDay.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	current := domain.DayStart(t).AddDate(0, 0, 1)
	for i := 0; i < maxLookback; i++ {
		if c.IsTradingDay(current) {
			return current
		}
		current = current.AddDate(0, 0, 1)
	}
	return domain.DayStart(t)
}

// marketClosures lists weekday closures of the Shanghai/Shenzhen exchanges.
// Weekends are excluded structurally and omitted here. Extend when the
// exchange publishes the next year's schedule.
var marketClosures = []string{
	// 2023
	"2023-01-02", // New Year (observed)
	"2023-01-23", "2023-01-24", "2023-01-25", "2023-01-26", "2023-01-27", // Spring Festival
	"2023-04-05",                             // Qingming
	"2023-05-01", "2023-05-02", "2023-05-03", // Labour Day
	"2023-06-22", "2023-06-23", // Dragon Boat
	"2023-09-29",                                                         // Mid-Autumn
	"2023-10-02", "2023-10-03", "2023-10-04", "2023-10-05", "2023-10-06", // National Day

	// 2024
	"2024-01-01", // New Year
	"2024-02-09", "2024-02-12", "2024-02-13", "2024-02-14", "2024-02-15", "2024-02-16", // Spring Festival
	"2024-04-04", "2024-04-05", // Qingming
	"2024-05-01", "2024-05-02", "2024-05-03", // Labour Day
	"2024-06-10",               // Dragon Boat
	"2024-09-16", "2024-09-17", // Mid-Autumn
	"2024-10-01", "2024-10-02", "2024-10-03", "2024-10-04", "2024-10-07", // National Day

	// 2025
	"2025-01-01", // New Year
	"2025-01-28", "2025-01-29", "2025-01-30", "2025-01-31", "2025-02-03", "2025-02-04", // Spring Festival
	"2025-04-04",                             // Qingming
	"2025-05-01", "2025-05-02", "2025-05-05", // Labour Day
	"2025-06-02",                                                         // Dragon Boat
	"2025-10-01", "2025-10-02", "2025-10-03", "2025-10-06", "2025-10-07", "2025-10-08", // National Day + Mid-Autumn

	// 2026
	"2026-01-01", "2026-01-02", // New Year
	"2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19", "2026-02-20", // Spring Festival
	"2026-04-06",                             // Qingming (observed)
	"2026-05-01", "2026-05-04", "2026-05-05", // Labour Day
	"2026-06-19", // Dragon Boat
	"2026-09-25", // Mid-Autumn
	"2026-10-01", "2026-10-02", "2026-10-05", "2026-10-06", "2026-10-07", // National Day
}
