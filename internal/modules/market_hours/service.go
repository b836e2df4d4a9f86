package market_hours

import (
	"sort"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/rs/zerolog"
)

// Trading sessions of the mainland exchanges, wall-clock local time.
const (
	morningOpen    = "09:30"
	morningClose   = "11:30"
	afternoonOpen  = "13:00"
	afternoonClose = "15:00"
)

// Status describes the market at a point in time.
type Status struct {
	Date           string `json:"date"`
	IsTradingDay   bool   `json:"is_trading_day"`
	SessionOpen    bool   `json:"session_open"`
	LastTradingDay string `json:"last_trading_day"`
	NextTradingDay string `json:"next_trading_day"`
	Cutoff         string `json:"cutoff"`
}

// Service exposes calendar and resolver queries to the HTTP layer.
type Service struct {
	calendar *Calendar
	resolver *Resolver
	cutoff   string
	log      zerolog.Logger
}

// NewService creates a new market hours service.
func NewService(calendar *Calendar, resolver *Resolver, cutoff string, log zerolog.Logger) *Service {
	return &Service{
		calendar: calendar,
		resolver: resolver,
		cutoff:   cutoff,
		log:      log.With().Str("service", "market_hours").Logger(),
	}
}

// Status reports the market state at the given time.
func (s *Service) Status(now time.Time) Status {
	return Status{
		Date:           domain.FormatDate(now),
		IsTradingDay:   s.calendar.IsTradingDay(now),
		SessionOpen:    s.SessionOpen(now),
		LastTradingDay: domain.FormatDate(s.calendar.LastTradingDay(now)),
		NextTradingDay: domain.FormatDate(s.calendar.NextTradingDay(now)),
		Cutoff:         s.cutoff,
	}
}

// SessionOpen reports whether a trading session is in progress.
func (s *Service) SessionOpen(now time.Time) bool {
	if !s.calendar.IsTradingDay(now) {
		return false
	}
	clock := now.Format("15:04")
	inMorning := clock >= morningOpen && clock <= morningClose
	inAfternoon := clock >= afternoonOpen && clock <= afternoonClose
	return inMorning || inAfternoon
}

// ConfirmationDate resolves the settlement confirmation date for a trade time.
func (s *Service) ConfirmationDate(tradeTime time.Time) string {
	return s.resolver.ConfirmationDateString(tradeTime)
}

// Closures returns the known closure dates for a year, sorted ascending.
// A zero year returns the whole table.
func (s *Service) Closures(year int) []string {
	prefix := ""
	if year > 0 {
		prefix = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006")
	}

	out := make([]string, 0, len(s.calendar.closures))
	for d := range s.calendar.closures {
		if prefix == "" || strings.HasPrefix(d, prefix) {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}
