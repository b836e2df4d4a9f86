package domain

import "time"

// DateFormat is the ISO-8601 day format used at every storage and API boundary.
const DateFormat = "2006-01-02"

// FormatDate renders a timestamp as a storage date.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// ParseDate parses a storage date. The zero time and an error are returned
// for malformed input.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}

// DayStart truncates a timestamp to midnight in its own location.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
