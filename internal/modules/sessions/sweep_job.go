package sessions

import (
	"context"

	"github.com/rs/zerolog"
)

// SweepJob removes expired sessions. Scheduled hourly.
type SweepJob struct {
	store Store
	log   zerolog.Logger
}

// NewSweepJob creates a new session sweep job.
func NewSweepJob(store Store, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		store: store,
		log:   log.With().Str("job", "session_sweep").Logger(),
	}
}

// Run removes all expired sessions.
func (j *SweepJob) Run() error {
	deleted, err := j.store.SweepExpired(context.Background())
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to sweep sessions")
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Swept expired sessions")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *SweepJob) Name() string {
	return "session-sweep"
}
