package market_hours

import (
	"time"

	"github.com/aristath/fundfolio/internal/domain"
)

// Resolver computes the confirmation date of a trade: the trading day whose
// published NAV prices it. Orders placed strictly before the daily cutoff
// settle against the previous trading day's NAV; orders at or after the
// cutoff settle against the trade date's own NAV (snapped backward to a
// trading day in both cases).
type Resolver struct {
	calendar     *Calendar
	cutoffHour   int
	cutoffMinute int
}

// NewResolver builds a resolver around a calendar and a wall-clock cutoff.
func NewResolver(calendar *Calendar, cutoffHour, cutoffMinute int) *Resolver {
	return &Resolver{
		calendar:     calendar,
		cutoffHour:   cutoffHour,
		cutoffMinute: cutoffMinute,
	}
}

// ConfirmationDate resolves the confirmation date for a trade placed at
// tradeTime. The zero time means "now".
func (r *Resolver) ConfirmationDate(tradeTime time.Time) time.Time {
	if tradeTime.IsZero() {
		tradeTime = time.Now()
	}

	cutoff := time.Date(
		tradeTime.Year(), tradeTime.Month(), tradeTime.Day(),
		r.cutoffHour, r.cutoffMinute, 0, 0, tradeTime.Location(),
	)

	day := domain.DayStart(tradeTime)
	if tradeTime.Before(cutoff) {
		day = day.AddDate(0, 0, -1)
	}
	return r.calendar.LastTradingDay(day)
}

// ConfirmationDateString is ConfirmationDate rendered as a storage date.
func (r *Resolver) ConfirmationDateString(tradeTime time.Time) string {
	return domain.FormatDate(r.ConfirmationDate(tradeTime))
}
