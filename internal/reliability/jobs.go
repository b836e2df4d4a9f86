package reliability

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/cache"
	"github.com/aristath/fundfolio/internal/database"
)

// MaintenanceJob checkpoints the WAL on every database and sweeps the
// expired series cache entries. Scheduled daily, before the backup runs.
type MaintenanceJob struct {
	databases []*database.DB
	store     *cache.Store
	log       zerolog.Logger
}

// NewMaintenanceJob creates the daily maintenance job. store may be nil.
func NewMaintenanceJob(databases []*database.DB, store *cache.Store, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		store:     store,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Run checkpoints and sweeps. A failure on one database does not stop the
// others; the first error is reported.
func (j *MaintenanceJob) Run() error {
	var firstErr error

	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint completed")
	}

	if j.store != nil {
		swept, err := j.store.SweepExpired(context.Background())
		if err != nil {
			j.log.Error().Err(err).Msg("Cache sweep failed")
			if firstErr == nil {
				firstErr = err
			}
		} else if swept > 0 {
			j.log.Info().Int("swept", swept).Msg("Swept expired cache entries")
		}
	}

	return firstErr
}

// Name returns the job name for scheduling and logging.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// BackupJob runs the daily backup and retention rotation.
type BackupJob struct {
	service *BackupService
	log     zerolog.Logger
}

// NewBackupJob creates the daily backup job.
func NewBackupJob(service *BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Run creates and uploads a backup, then prunes old archives. Rotation
// failures are logged but do not fail the job; the backup itself made it.
func (j *BackupJob) Run() error {
	ctx := context.Background()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	if err := j.service.RotateOldBackups(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *BackupJob) Name() string {
	return "backup"
}
