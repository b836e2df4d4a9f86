package server

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/modules/ledger"
	"github.com/aristath/fundfolio/internal/reliability"
	"github.com/aristath/fundfolio/internal/scheduler"
)

// SystemHandlers serves operational visibility endpoints: host and database
// status, scheduled job outcomes, and stored backups.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   []*database.DB
	ledger      *ledger.Service
	scheduler   *scheduler.Scheduler
	backups     *reliability.BackupService // nil when backups are not configured
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases []*database.DB,
	ledgerService *ledger.Service,
	sched *scheduler.Scheduler,
	backups *reliability.BackupService,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		ledger:      ledgerService,
		scheduler:   sched,
		backups:     backups,
	}
}

type databaseStatus struct {
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	PageCount     int64  `json:"page_count"`
	PageSize      int64  `json:"page_size"`
	FreelistCount int64  `json:"freelist_count"`
	Error         string `json:"error,omitempty"`
}

type systemStatus struct {
	UptimeSeconds float64               `json:"uptime_seconds"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryPercent float64               `json:"memory_percent"`
	DiskPercent   float64               `json:"disk_percent"`
	DataDirMB     float64               `json:"data_dir_mb"`
	Databases     []databaseStatus      `json:"databases"`
	Pending       *ledger.PendingStatus `json:"pending,omitempty"`
}

// HandleStatus handles GET /api/system/status.
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.hostStats()

	status := systemStatus{
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DataDirMB:     dirSizeMB(h.dataDir),
	}

	if usage, err := disk.Usage(h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		status.DiskPercent = usage.UsedPercent
	}

	for _, db := range h.databases {
		ds := databaseStatus{Name: db.Name()}
		if stats, err := db.GetStats(); err != nil {
			ds.Error = err.Error()
		} else {
			ds.SizeBytes = stats.SizeBytes
			ds.WALSizeBytes = stats.WALSizeBytes
			ds.PageCount = stats.PageCount
			ds.PageSize = stats.PageSize
			ds.FreelistCount = stats.FreelistCount
		}
		status.Databases = append(status.Databases, ds)
	}

	pending, err := h.ledger.PendingStatus(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get pending status")
	} else {
		status.Pending = pending
	}

	writeData(h.log, w, http.StatusOK, status)
}

// HandleJobs handles GET /api/system/jobs.
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	writeData(h.log, w, http.StatusOK, h.scheduler.Jobs())
}

// HandleBackups handles GET /api/system/backups.
func (h *SystemHandlers) HandleBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeData(h.log, w, http.StatusOK, map[string]interface{}{
			"enabled": false,
			"backups": []interface{}{},
		})
		return
	}

	backups, err := h.backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		writeError(h.log, w, http.StatusInternalServerError, "internal error")
		return
	}

	writeData(h.log, w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"backups": backups,
	})
}

// hostStats samples CPU and memory usage. The 100ms CPU window keeps the
// status endpoint fast at the cost of a coarser reading.
func (h *SystemHandlers) hostStats() (float64, float64) {
	cpuAvg := 0.0
	if percents, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(percents) > 0 {
		cpuAvg = percents[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}

func dirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}
