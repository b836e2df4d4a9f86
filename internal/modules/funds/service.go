package funds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/fundfolio/internal/cache"
	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// Estimates drifting further than this from the prior NAV are provider junk
// (wrong instrument, stale tick) and get dropped rather than shown.
const estimateSanityPct = 10.0

// refreshLookbackDays bounds the first history fetch for a fund with an
// empty archive.
const refreshLookbackDays = 30

// Service coordinates instrument tracking: the local NAV archive, provider
// fetch-through, intraday estimates and the watchlist.
type Service struct {
	repo        *Repository
	provider    ValuationProvider
	navProvider HistoricalNavProvider
	store       *cache.Store // nil disables estimate caching
	calendar    *market_hours.Calendar
	fetchWait   time.Duration
	estimateTTL time.Duration
	riskFree    float64 // annualized risk-free rate for the Sharpe ratio
	log         zerolog.Logger
}

// NewService creates a new funds service. store may be nil.
func NewService(
	repo *Repository,
	provider ValuationProvider,
	navProvider HistoricalNavProvider,
	store *cache.Store,
	calendar *market_hours.Calendar,
	fetchWait time.Duration,
	estimateTTL time.Duration,
	riskFree float64,
	log zerolog.Logger,
) *Service {
	if fetchWait <= 0 {
		fetchWait = 10 * time.Second
	}
	return &Service{
		repo:        repo,
		provider:    provider,
		navProvider: navProvider,
		store:       store,
		calendar:    calendar,
		fetchWait:   fetchWait,
		estimateTTL: estimateTTL,
		riskFree:    riskFree,
		log:         log.With().Str("service", "funds").Logger(),
	}
}

// EnsureTracked verifies the code exists and starts tracking it if new.
// Unknown codes fail with domain.ErrNotFound; a provider outage fails with
// domain.ErrProviderUnavailable so the caller can retry.
func (s *Service) EnsureTracked(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: fund code is required", domain.ErrValidation)
	}

	exists, err := s.repo.Exists(ctx, code)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	quote, err := s.fetchQuote(ctx, code)
	if err != nil {
		return fmt.Errorf("cannot verify fund %s: %w", code, domain.ErrProviderUnavailable)
	}
	if quote == nil {
		return fmt.Errorf("fund %s: %w", code, domain.ErrNotFound)
	}

	fund := &Fund{Code: code, Name: quote.Name, NavDate: quote.NavDate}
	if quote.Nav > 0 {
		nav := quote.Nav
		fund.LatestNav = &nav
	}
	if err := s.repo.Upsert(ctx, fund); err != nil {
		return err
	}
	if quote.Nav > 0 && quote.NavDate != "" {
		if err := s.repo.InsertNavPoints(ctx, code, map[string]float64{quote.NavDate: quote.Nav}); err != nil {
			return err
		}
	}
	s.log.Info().Str("code", code).Str("name", quote.Name).Msg("Started tracking fund")
	return nil
}

// NavOn returns the official NAV for a date, fetching through to the
// provider on an archive miss. ok is false when the NAV simply isn't
// published yet or the provider is unreachable; errors are storage only.
func (s *Service) NavOn(ctx context.Context, code, date string) (float64, bool, error) {
	nav, ok, err := s.repo.NavOn(ctx, code, date)
	if err != nil || ok {
		return nav, ok, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchWait)
	points, err := s.navProvider.FetchRange(fetchCtx, code, date, date)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Str("date", date).
			Msg("NAV fetch failed, treating as unpublished")
		return 0, false, nil
	}
	if err := s.repo.InsertNavPoints(ctx, code, points); err != nil {
		return 0, false, err
	}

	nav, ok = points[date]
	return nav, ok, nil
}

// NavRange returns archived NAVs between start and end inclusive, topping
// the archive up from the provider when its tail is older than end.
// Provider failures degrade to whatever the archive already holds.
func (s *Service) NavRange(ctx context.Context, code, start, end string) (map[string]float64, error) {
	last, err := s.repo.LastNavDate(ctx, code)
	if err != nil {
		return nil, err
	}
	if last < end {
		fetchStart := start
		if last > start {
			fetchStart = last
		}
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchWait)
		points, err := s.navProvider.FetchRange(fetchCtx, code, fetchStart, end)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("code", code).
				Msg("NAV range fetch failed, serving archive only")
		} else if err := s.repo.InsertNavPoints(ctx, code, points); err != nil {
			return nil, err
		}
	}
	return s.repo.NavRange(ctx, code, start, end)
}

// LatestNav returns the newest known NAV for a code, preferring the cached
// fund row and falling back to the archive. Nil when nothing is known yet.
func (s *Service) LatestNav(ctx context.Context, code string) (*NavPoint, error) {
	fund, err := s.repo.Get(ctx, code)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if fund != nil && fund.LatestNav != nil && fund.NavDate != "" {
		return &NavPoint{Date: fund.NavDate, Nav: *fund.LatestNav}, nil
	}
	return s.repo.LatestNavPoint(ctx, code)
}

// Get returns one tracked fund.
func (s *Service) Get(ctx context.Context, code string) (*Fund, error) {
	return s.repo.Get(ctx, code)
}

// List returns all tracked funds.
func (s *Service) List(ctx context.Context) ([]Fund, error) {
	return s.repo.List(ctx)
}

// Search returns tracked funds matching the query by code or name.
func (s *Service) Search(ctx context.Context, query string) ([]Fund, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", domain.ErrValidation)
	}
	return s.repo.Search(ctx, query)
}

// Delete stops tracking a fund and drops its market data.
func (s *Service) Delete(ctx context.Context, code string) error {
	return s.repo.Delete(ctx, strings.TrimSpace(code))
}

// History returns archived NAV points for the last n days, oldest first.
func (s *Service) History(ctx context.Context, code string, days int) ([]NavPoint, error) {
	if days <= 0 {
		days = 90
	}
	if _, err := s.repo.Get(ctx, code); err != nil {
		return nil, err
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	navs, err := s.NavRange(ctx, code, domain.FormatDate(start), domain.FormatDate(end))
	if err != nil {
		return nil, err
	}
	points := make([]NavPoint, 0, len(navs))
	for date, nav := range navs {
		points = append(points, NavPoint{Date: date, Nav: nav})
	}
	sortNavPoints(points)
	return points, nil
}

// RefreshNavs tops up the archive for every tracked fund and refreshes the
// cached latest NAV. Newly published NAVs are scored against that day's
// stored intraday estimate. Per-fund provider failures are logged and
// skipped so one bad code doesn't stall the rest.
func (s *Service) RefreshNavs(ctx context.Context) (int, error) {
	codes, err := s.repo.Codes(ctx)
	if err != nil {
		return 0, err
	}

	today := domain.FormatDate(time.Now())
	updated := 0
	for _, code := range codes {
		n, err := s.refreshFund(ctx, code, today)
		if err != nil {
			s.log.Warn().Err(err).Str("code", code).Msg("NAV refresh failed for fund")
			continue
		}
		updated += n
	}
	s.log.Info().Int("funds", len(codes)).Int("new_navs", updated).Msg("NAV refresh complete")
	return updated, nil
}

func (s *Service) refreshFund(ctx context.Context, code, today string) (int, error) {
	last, err := s.repo.LastNavDate(ctx, code)
	if err != nil {
		return 0, err
	}
	start := last
	if start == "" {
		start = domain.FormatDate(time.Now().AddDate(0, 0, -refreshLookbackDays))
	}
	if start >= today {
		return 0, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchWait)
	points, err := s.navProvider.FetchRange(fetchCtx, code, start, today)
	cancel()
	if err != nil {
		return 0, err
	}

	fresh := make(map[string]float64, len(points))
	for date, nav := range points {
		if date > last {
			fresh[date] = nav
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.repo.InsertNavPoints(ctx, code, fresh); err != nil {
		return 0, err
	}

	newest := ""
	for date, nav := range fresh {
		if date > newest {
			newest = date
		}
		s.scoreEstimate(ctx, code, date, nav)
	}
	if err := s.repo.UpdateNav(ctx, code, fresh[newest], newest); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// scoreEstimate records how the day's last intraday estimate compared to the
// NAV published for that day. Best effort: accuracy rows are advisory.
func (s *Service) scoreEstimate(ctx context.Context, code, date string, nav float64) {
	estimate, ok, err := s.repo.EstimateOn(ctx, code, date)
	if err != nil || !ok || nav == 0 {
		return
	}
	point := AccuracyPoint{
		Code:     code,
		Date:     date,
		Estimate: estimate,
		Nav:      nav,
		ErrorPct: domain.Round4((estimate - nav) / nav * 100),
	}
	if err := s.repo.UpsertAccuracy(ctx, point); err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("failed to record estimate accuracy")
	}
}

// Estimate returns the current quote for a code: the last official NAV plus,
// during trading hours, the provider's intraday estimate. Results are cached
// briefly so a page full of funds doesn't hammer the provider.
func (s *Service) Estimate(ctx context.Context, code string) (*Quote, error) {
	cacheKey := "estimate:" + code
	if s.store != nil {
		var cached Quote
		hit, err := s.store.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.log.Warn().Err(err).Str("code", code).Msg("estimate cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	quote, err := s.fetchQuote(ctx, code)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("estimate fetch failed")
		return nil, domain.ErrProviderUnavailable
	}
	if quote == nil {
		return nil, fmt.Errorf("fund %s: %w", code, domain.ErrNotFound)
	}
	s.sanitizeEstimate(quote)

	if quote.Estimate != nil {
		date := domain.FormatDate(s.calendar.LastTradingDay(quote.AsOf))
		rate := 0.0
		if quote.EstimateRate != nil {
			rate = *quote.EstimateRate
		}
		if err := s.repo.RecordEstimate(ctx, code, date, *quote.Estimate, rate, quote.AsOf, quote.Source); err != nil {
			s.log.Warn().Err(err).Str("code", code).Msg("failed to record intraday estimate")
		}
	}

	if s.store != nil {
		if err := s.store.Set(ctx, cacheKey, quote, s.estimateTTL); err != nil {
			s.log.Warn().Err(err).Str("code", code).Msg("estimate cache write failed")
		}
	}
	return quote, nil
}

// sanitizeEstimate drops intraday fields that are obviously wrong relative
// to the official NAV.
func (s *Service) sanitizeEstimate(q *Quote) {
	if q.Estimate == nil {
		return
	}
	if q.EstimateRate != nil && math.Abs(*q.EstimateRate) >= estimateSanityPct {
		s.log.Warn().Str("code", q.Code).Float64("rate", *q.EstimateRate).
			Msg("Dropping implausible intraday estimate")
		q.Estimate = nil
		q.EstimateRate = nil
		return
	}
	if q.Nav > 0 && math.Abs(*q.Estimate-q.Nav)/q.Nav*100 >= estimateSanityPct {
		s.log.Warn().Str("code", q.Code).Float64("estimate", *q.Estimate).Float64("nav", q.Nav).
			Msg("Dropping implausible intraday estimate")
		q.Estimate = nil
		q.EstimateRate = nil
	}
}

func (s *Service) fetchQuote(ctx context.Context, code string) (*Quote, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchWait)
	defer cancel()
	return s.provider.Fetch(fetchCtx, code)
}

// Watch starts tracking a code and adds it to the watchlist.
func (s *Service) Watch(ctx context.Context, code string) error {
	if err := s.EnsureTracked(ctx, code); err != nil {
		return err
	}
	return s.repo.Watch(ctx, strings.TrimSpace(code))
}

// Unwatch removes a code from the watchlist. The fund stays tracked.
func (s *Service) Unwatch(ctx context.Context, code string) error {
	return s.repo.Unwatch(ctx, strings.TrimSpace(code))
}

// Watchlist returns the watched funds.
func (s *Service) Watchlist(ctx context.Context) ([]Fund, error) {
	codes, err := s.repo.Watchlist(ctx)
	if err != nil {
		return nil, err
	}
	funds := make([]Fund, 0, len(codes))
	for _, code := range codes {
		fund, err := s.repo.Get(ctx, code)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		funds = append(funds, *fund)
	}
	return funds, nil
}

// WatchlistQuotes returns a current quote per watched fund. Provider
// failures fall back to the stored latest NAV so the stream never blanks.
func (s *Service) WatchlistQuotes(ctx context.Context) ([]Quote, error) {
	funds, err := s.Watchlist(ctx)
	if err != nil {
		return nil, err
	}
	quotes := make([]Quote, 0, len(funds))
	for _, fund := range funds {
		quote, err := s.Estimate(ctx, fund.Code)
		if err != nil {
			quote = &Quote{Code: fund.Code, Name: fund.Name, NavDate: fund.NavDate, AsOf: time.Now(), Source: "archive"}
			if fund.LatestNav != nil {
				quote.Nav = *fund.LatestNav
			}
		}
		quotes = append(quotes, *quote)
	}
	return quotes, nil
}

// AccuracyHistory returns recent estimate-vs-NAV accuracy points.
func (s *Service) AccuracyHistory(ctx context.Context, code string, limit int) ([]AccuracyPoint, error) {
	if _, err := s.repo.Get(ctx, code); err != nil {
		return nil, err
	}
	return s.repo.AccuracyHistory(ctx, code, limit)
}

func sortNavPoints(points []NavPoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
}
