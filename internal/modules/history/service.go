package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/fundfolio/internal/cache"
	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/funds"
	"github.com/aristath/fundfolio/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// seriesCacheTTL bounds how long a computed series is served without
// recomputation. The cache key carries the newest operation id, so new
// trades invalidate immediately; the TTL only covers NAVs published after
// the series was built.
const seriesCacheTTL = 10 * time.Minute

// DailyValue is one row of a market-value series: total value and aggregate
// cost basis of the covered positions at end of one date.
type DailyValue struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Cost  float64 `json:"cost"`
}

// OperationSource is the slice of the ledger module the replay needs.
type OperationSource interface {
	ListForReplay(ctx context.Context, accountID int64, end string) ([]ledger.Operation, error)
}

// AccountDirectory resolves accounts the way the ledger service does.
type AccountDirectory interface {
	Resolve(ctx context.Context, id int64) (owner *int64, leaf bool, err error)
	IDs(ctx context.Context, scope domain.TenantScope) ([]int64, error)
	ChildIDs(ctx context.Context, parentID int64) ([]int64, error)
}

// NavArchive is the slice of the funds module the aggregation needs.
// NavRange returns only published dates; absent dates mean the NAV does not
// exist yet. LatestNav is the flat fallback for instruments with no history
// rows in the window at all; it returns nil when nothing is known.
type NavArchive interface {
	NavRange(ctx context.Context, code, start, end string) (map[string]float64, error)
	LatestNav(ctx context.Context, code string) (*funds.NavPoint, error)
}

// Service computes historical market-value series by replaying the operation
// log and pricing the daily snapshots against archived NAVs.
type Service struct {
	ops      OperationSource
	accounts AccountDirectory
	navs     NavArchive
	store    *cache.Store // nil disables series caching
	maxDays  int
	log      zerolog.Logger
}

// NewService creates a new history service. store may be nil.
func NewService(
	ops OperationSource,
	accounts AccountDirectory,
	navs NavArchive,
	store *cache.Store,
	maxDays int,
	log zerolog.Logger,
) *Service {
	if maxDays <= 0 {
		maxDays = 365
	}
	return &Service{
		ops:      ops,
		accounts: accounts,
		navs:     navs,
		store:    store,
		maxDays:  maxDays,
		log:      log.With().Str("service", "history").Logger(),
	}
}

// History returns the market-value series of one account over the last days
// days, oldest first. A request for n days yields exactly n+1 rows, today
// included; days the account held nothing (or whose NAVs are unpublished)
// contribute zero.
func (s *Service) History(ctx context.Context, scope domain.TenantScope, accountID int64, days int) ([]DailyValue, error) {
	days = s.clampDays(days)
	ids, err := s.resolveAccounts(ctx, scope, &accountID)
	if err != nil {
		return nil, err
	}
	return s.series(ctx, ids, days)
}

// AggregateHistory merges the series of every leaf account in the scope.
func (s *Service) AggregateHistory(ctx context.Context, scope domain.TenantScope, days int) ([]DailyValue, error) {
	days = s.clampDays(days)
	ids, err := s.accounts.IDs(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.series(ctx, ids, days)
}

func (s *Service) clampDays(days int) int {
	if days <= 0 {
		days = 30
	}
	if days > s.maxDays {
		days = s.maxDays
	}
	return days
}

// resolveAccounts authorizes the account against the scope and expands
// parents into their children.
func (s *Service) resolveAccounts(ctx context.Context, scope domain.TenantScope, accountID *int64) ([]int64, error) {
	if accountID == nil {
		return s.accounts.IDs(ctx, scope)
	}
	owner, leaf, err := s.accounts.Resolve(ctx, *accountID)
	if err != nil {
		return nil, err
	}
	if !scope.Owns(owner) {
		return nil, domain.ErrOwnership
	}
	if leaf {
		return []int64{*accountID}, nil
	}
	return s.accounts.ChildIDs(ctx, *accountID)
}

func (s *Service) series(ctx context.Context, accountIDs []int64, days int) ([]DailyValue, error) {
	end := domain.DayStart(time.Now())
	start := end.AddDate(0, 0, -days)
	endDate := domain.FormatDate(end)
	startDate := domain.FormatDate(start)

	// The operation log is read up front in any case: it is local and
	// cheap, and its newest id makes the cache key invalidate the moment
	// a new trade lands.
	ops := make(map[int64][]ledger.Operation, len(accountIDs))
	var newestOp int64
	for _, id := range accountIDs {
		accountOps, err := s.ops.ListForReplay(ctx, id, endDate)
		if err != nil {
			return nil, err
		}
		ops[id] = accountOps
		for i := range accountOps {
			if accountOps[i].ID > newestOp {
				newestOp = accountOps[i].ID
			}
		}
	}

	cacheKey := s.cacheKey(accountIDs, days, endDate, newestOp)
	if s.store != nil {
		var cached []DailyValue
		hit, err := s.store.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.log.Warn().Err(err).Msg("history cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	// value and cost accumulated per date across accounts and instruments
	values := make(map[string]float64)
	costs := make(map[string]float64)
	navCache := make(map[string]map[string]float64)

	for _, id := range accountIDs {
		snapshots := ReplayPositions(ops[id], start, end)
		for code, byDate := range snapshots {
			navs, err := s.navsFor(ctx, navCache, code, startDate, endDate)
			if err != nil {
				return nil, err
			}
			for date, snap := range byDate {
				if snap.Shares <= 0 {
					continue
				}
				nav, ok := navs[date]
				if !ok {
					// No NAV published for this exact day: the
					// instrument contributes nothing. Positions
					// forward-fill, NAVs never do.
					continue
				}
				values[date] += snap.Shares * nav
				costs[date] += snap.CostBasis()
			}
		}
	}

	series := make([]DailyValue, 0, days+1)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := domain.FormatDate(day)
		series = append(series, DailyValue{
			Date:  date,
			Value: domain.Round2(values[date]),
			Cost:  domain.Round2(costs[date]),
		})
	}

	if s.store != nil {
		if err := s.store.Set(ctx, cacheKey, series, seriesCacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("history cache write failed")
		}
	}
	return series, nil
}

// navsFor returns the instrument's published NAVs over the window, fetching
// once per series computation. An instrument with no history rows at all
// falls back to its latest known NAV applied flat across the window, a
// deliberate approximation for freshly tracked funds.
func (s *Service) navsFor(ctx context.Context, navCache map[string]map[string]float64, code, start, end string) (map[string]float64, error) {
	if navs, ok := navCache[code]; ok {
		return navs, nil
	}
	navs, err := s.navs.NavRange(ctx, code, start, end)
	if err != nil {
		return nil, err
	}
	if len(navs) == 0 {
		latest, err := s.navs.LatestNav(ctx, code)
		if err != nil {
			return nil, err
		}
		navs = make(map[string]float64)
		if latest != nil {
			startDay, err := domain.ParseDate(start)
			if err != nil {
				return nil, err
			}
			endDay, err := domain.ParseDate(end)
			if err != nil {
				return nil, err
			}
			for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
				navs[domain.FormatDate(day)] = latest.Nav
			}
			s.log.Debug().Str("code", code).
				Msg("No archived NAVs in window, applying latest NAV flat")
		}
	}
	navCache[code] = navs
	return navs, nil
}

func (s *Service) cacheKey(accountIDs []int64, days int, end string, newestOp int64) string {
	ids := make([]int64, len(accountIDs))
	copy(ids, accountIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	key := fmt.Sprintf("history:%s:%d:%d", end, days, newestOp)
	for _, id := range ids {
		key += fmt.Sprintf(":%d", id)
	}
	return key
}
