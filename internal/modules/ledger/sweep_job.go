package ledger

import (
	"context"

	"github.com/rs/zerolog"
)

// SweepJob retries pending settlements on a schedule. NAV publication times
// vary by fund, so the sweep simply reprices whatever is still pending. An
// operation stuck past warnAgeHours is logged loudly; it usually means the
// provider stopped publishing NAVs for that code.
type SweepJob struct {
	service      *Service
	warnAgeHours float64
	log          zerolog.Logger
}

// NewSweepJob creates a new sweep job. warnAgeHours <= 0 disables the age
// warning.
func NewSweepJob(service *Service, warnAgeHours int, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		service:      service,
		warnAgeHours: float64(warnAgeHours),
		log:          log.With().Str("job", "pending-settlement-sweep").Logger(),
	}
}

// Name returns the job name
func (j *SweepJob) Name() string {
	return "pending-settlement-sweep"
}

// Run executes one sweep pass.
func (j *SweepJob) Run() error {
	ctx := context.Background()
	if _, err := j.service.SweepPending(ctx); err != nil {
		return err
	}

	if j.warnAgeHours <= 0 {
		return nil
	}
	status, err := j.service.PendingStatus(ctx)
	if err != nil {
		return err
	}
	if status.OldestAgeHours != nil && *status.OldestAgeHours > j.warnAgeHours {
		j.log.Warn().
			Int("pending", status.Count).
			Int64("oldest_id", *status.OldestID).
			Str("confirm_date", status.OldestConfirmDate).
			Float64("age_hours", *status.OldestAgeHours).
			Msg("Pending operation stuck past warning age")
	}
	return nil
}
