package market_hours

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestResolver() *Resolver {
	return NewResolver(NewCalendar(), 15, 0)
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestConfirmationDateBeforeCutoff(t *testing.T) {
	r := newTestResolver()

	// Wednesday 2024-01-03 14:59 -> previous trading day (Tuesday)
	got := r.ConfirmationDate(time.Date(2024, time.January, 3, 14, 59, 0, 0, time.Local))
	assert.Equal(t, date(2024, time.January, 2), got)
}

func TestConfirmationDateAtCutoff(t *testing.T) {
	r := newTestResolver()

	// Exactly 15:00 counts as after the cutoff: same-day NAV
	got := r.ConfirmationDate(time.Date(2024, time.January, 3, 15, 0, 0, 0, time.Local))
	assert.Equal(t, date(2024, time.January, 3), got)
}

func TestConfirmationDateAfterCutoff(t *testing.T) {
	r := newTestResolver()

	got := r.ConfirmationDate(time.Date(2024, time.January, 3, 20, 30, 0, 0, time.Local))
	assert.Equal(t, date(2024, time.January, 3), got)
}

func TestConfirmationDateMondayMorningWalksToFriday(t *testing.T) {
	r := newTestResolver()

	// Monday 2024-01-08 09:00, before cutoff: Sunday -> snap back to Friday
	got := r.ConfirmationDate(time.Date(2024, time.January, 8, 9, 0, 0, 0, time.Local))
	assert.Equal(t, date(2024, time.January, 5), got)
}

func TestConfirmationDateOverHolidayWeek(t *testing.T) {
	r := newTestResolver()

	// Morning of the first session after Spring Festival 2024 (Feb 19)
	// prices against the last pre-holiday trading day (Feb 8).
	got := r.ConfirmationDate(time.Date(2024, time.February, 19, 10, 0, 0, 0, time.Local))
	assert.Equal(t, date(2024, time.February, 8), got)
}

func TestConfirmationDateZeroTimeMeansNow(t *testing.T) {
	r := newTestResolver()

	got := r.ConfirmationDate(time.Time{})
	// Resolves relative to the wall clock; the result is never in the future
	// and never more than the lookback window in the past.
	assert.False(t, got.After(time.Now()))
	assert.True(t, time.Since(got) < 31*24*time.Hour)
}

func TestCustomCutoff(t *testing.T) {
	r := NewResolver(NewCalendar(), 14, 30)

	// 14:45 with a 14:30 cutoff is after the cutoff: same-day NAV
	got := r.ConfirmationDate(time.Date(2024, time.January, 3, 14, 45, 0, 0, time.Local))
	assert.Equal(t, date(2024, time.January, 3), got)
}

func TestSessionOpen(t *testing.T) {
	svc := NewService(NewCalendar(), newTestResolver(), "15:00", testLogger())

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid morning session", time.Date(2024, time.January, 3, 10, 15, 0, 0, time.Local), true},
		{"lunch break", time.Date(2024, time.January, 3, 12, 0, 0, 0, time.Local), false},
		{"afternoon session", time.Date(2024, time.January, 3, 14, 30, 0, 0, time.Local), true},
		{"after close", time.Date(2024, time.January, 3, 15, 1, 0, 0, time.Local), false},
		{"weekend", time.Date(2024, time.January, 6, 10, 0, 0, 0, time.Local), false},
		{"holiday", time.Date(2024, time.October, 1, 10, 0, 0, 0, time.Local), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.SessionOpen(tt.at))
		})
	}
}

func TestClosuresFilteredByYear(t *testing.T) {
	svc := NewService(NewCalendar(), newTestResolver(), "15:00", testLogger())

	closures := svc.Closures(2024)
	assert.NotEmpty(t, closures)
	for _, d := range closures {
		assert.Equal(t, "2024", d[:4])
	}
	// Sorted ascending
	for i := 1; i < len(closures); i++ {
		assert.Less(t, closures[i-1], closures[i])
	}
}
