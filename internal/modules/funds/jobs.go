package funds

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/modules/market_hours"
)

// RefreshJob tops up the NAV archive for every tracked fund. Scheduled for
// the evening publication window; non-trading days are skipped since no new
// NAV can appear.
type RefreshJob struct {
	service  *Service
	calendar *market_hours.Calendar
	log      zerolog.Logger
}

// NewRefreshJob creates a new NAV refresh job.
func NewRefreshJob(service *Service, calendar *market_hours.Calendar, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		service:  service,
		calendar: calendar,
		log:      log.With().Str("job", "nav-refresh").Logger(),
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "nav-refresh"
}

// Run executes one refresh pass.
func (j *RefreshJob) Run() error {
	if !j.calendar.IsTradingDay(time.Now()) {
		j.log.Debug().Msg("Skipping NAV refresh on non-trading day")
		return nil
	}
	_, err := j.service.RefreshNavs(context.Background())
	return err
}

// EstimateSnapshotJob pulls a fresh quote for every watched fund during
// trading hours. Fetching through Estimate records the day's latest intraday
// estimate, so the evening accuracy scoring has a value to compare against
// even when no client polled that day.
type EstimateSnapshotJob struct {
	service  *Service
	calendar *market_hours.Calendar
	log      zerolog.Logger
}

// NewEstimateSnapshotJob creates a new estimate snapshot job.
func NewEstimateSnapshotJob(service *Service, calendar *market_hours.Calendar, log zerolog.Logger) *EstimateSnapshotJob {
	return &EstimateSnapshotJob{
		service:  service,
		calendar: calendar,
		log:      log.With().Str("job", "estimate-snapshot").Logger(),
	}
}

// Name returns the job name
func (j *EstimateSnapshotJob) Name() string {
	return "estimate-snapshot"
}

// Run snapshots the watchlist once.
func (j *EstimateSnapshotJob) Run() error {
	if !j.calendar.IsTradingDay(time.Now()) {
		return nil
	}
	quotes, err := j.service.WatchlistQuotes(context.Background())
	if err != nil {
		return err
	}
	j.log.Debug().Int("quotes", len(quotes)).Msg("Estimate snapshot complete")
	return nil
}
