// Package main is the entry point for the fundfolio fund tracking service.
// It wires the three-database storage layer, the valuation provider chain,
// the module services, the background job scheduler and the HTTP server,
// then blocks until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/cache"
	"github.com/aristath/fundfolio/internal/clientdata"
	"github.com/aristath/fundfolio/internal/clients"
	"github.com/aristath/fundfolio/internal/clients/eastmoney"
	"github.com/aristath/fundfolio/internal/clients/sina"
	"github.com/aristath/fundfolio/internal/config"
	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/accounts"
	"github.com/aristath/fundfolio/internal/modules/funds"
	"github.com/aristath/fundfolio/internal/modules/history"
	"github.com/aristath/fundfolio/internal/modules/ledger"
	"github.com/aristath/fundfolio/internal/modules/market_hours"
	"github.com/aristath/fundfolio/internal/modules/sessions"
	"github.com/aristath/fundfolio/internal/modules/settings"
	"github.com/aristath/fundfolio/internal/reliability"
	"github.com/aristath/fundfolio/internal/scheduler"
	"github.com/aristath/fundfolio/internal/server"
	"github.com/aristath/fundfolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting fundfolio")

	// Databases. The ledger profile trades speed for durability; the cache
	// profile does the opposite since everything in cache.db can be rebuilt.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger.db")
	}
	defer ledgerDB.Close()

	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market.db")
	}
	defer marketDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache.db")
	}
	defer cacheDB.Close()

	// Migrations are tracked per module so each module owns its schema.
	for _, m := range []struct {
		db         *database.DB
		module     string
		migrations []database.Migration
	}{
		{ledgerDB, "accounts", accounts.Migrations},
		{ledgerDB, "ledger", ledger.Migrations},
		{ledgerDB, "settings", settings.Migrations},
		{marketDB, "funds", funds.Migrations},
		{cacheDB, "cache", cache.Migrations},
		{cacheDB, "sessions", sessions.Migrations},
		{cacheDB, "clientdata", clientdata.Migrations},
	} {
		if err := database.ApplyMigrations(m.db, m.module, m.migrations, log); err != nil {
			log.Fatal().Err(err).Str("module", m.module).Msg("Migration failed")
		}
	}

	// Settings stored in the database override the environment.
	settingsRepo := settings.NewRepository(ledgerDB.Conn(), log)
	if err := cfg.UpdateFromSettings(settingsRepo); err != nil {
		log.Warn().Err(err).Msg("Failed to apply settings overrides")
	}

	// Valuation providers: eastmoney first, sina as fallback, with cached
	// realtime quotes in cache.db smoothing over short outages.
	cacheRepo := clientdata.NewRepository(cacheDB.Conn())
	eastmoneyClient := eastmoney.NewClient(cacheRepo, log)
	sinaClient := sina.NewClient(log)
	quoteProvider := clients.NewComposite(cacheRepo, log,
		clients.Source{Provider: eastmoneyClient, Table: "eastmoney_realtime"},
		clients.Source{Provider: sinaClient, Table: "sina_realtime"},
	)

	cacheStore := cache.NewStore(cacheDB.Conn(), log)
	calendar := market_hours.NewCalendar()
	resolver := market_hours.NewResolver(calendar, cfg.CutoffHour, cfg.CutoffMinute)
	marketHoursService := market_hours.NewService(calendar, resolver, cfg.TradeCutoff, log)

	fundsRepo := funds.NewRepository(marketDB.Conn(), log)
	fundsService := funds.NewService(
		fundsRepo,
		quoteProvider,
		eastmoneyClient,
		cacheStore,
		calendar,
		cfg.ProviderTimeout,
		cfg.EstimateCacheTTL,
		cfg.RiskFreeRate,
		log,
	)

	accountsRepo := accounts.NewRepository(ledgerDB.Conn(), log)
	positionsRepo := ledger.NewPositionRepository(ledgerDB.Conn(), log)
	operationsRepo := ledger.NewOperationRepository(ledgerDB.Conn(), log)

	accountsService := accounts.NewService(accountsRepo, positionsRepo, log)
	ledgerService := ledger.NewService(
		ledgerDB.Conn(),
		operationsRepo,
		positionsRepo,
		accountsRepo,
		fundsService,
		resolver,
		log,
	)
	historyService := history.NewService(
		operationsRepo,
		accountsRepo,
		fundsService,
		cacheStore,
		cfg.HistoryMaxDays,
		log,
	)

	sessionStore := sessions.NewSQLiteStore(cacheDB.Conn(), cfg.SessionTTL, log)

	// Single-tenant deployments work against one implicit account.
	if !cfg.MultiTenant {
		if _, err := accountsService.EnsureDefault(context.Background(), domain.GlobalScope()); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure default account")
		}
	}

	var backupService *reliability.BackupService
	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup store")
		}
		backupService = reliability.NewBackupService(
			[]*database.DB{ledgerDB, marketDB, cacheDB},
			s3Client,
			cfg.DataDir,
			cfg.Backup.RetentionDays,
			log,
		)
	}

	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, ledgerService, fundsService, calendar, sessionStore, cacheRepo, cacheStore, backupService, []*database.DB{ledgerDB, marketDB, cacheDB}, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:            log,
		Cfg:            cfg,
		LedgerDB:       ledgerDB,
		MarketDB:       marketDB,
		CacheDB:        cacheDB,
		LedgerService:  ledgerService,
		AccountService: accountsService,
		FundService:    fundsService,
		HistoryService: historyService,
		MarketHours:    marketHoursService,
		SettingsRepo:   settingsRepo,
		SessionStore:   sessionStore,
		Scheduler:      sched,
		BackupService:  backupService,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("fundfolio stopped")
}

// registerJobs wires every recurring job. Schedules use the six-field cron
// format (seconds first).
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	ledgerService *ledger.Service,
	fundsService *funds.Service,
	calendar *market_hours.Calendar,
	sessionStore sessions.Store,
	cacheRepo *clientdata.Repository,
	cacheStore *cache.Store,
	backupService *reliability.BackupService,
	databases []*database.DB,
	log zerolog.Logger,
) error {
	sweepMinutes := cfg.SweepIntervalMinutes
	if sweepMinutes <= 0 {
		sweepMinutes = 10
	}

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		// pending settlements retry until the NAV shows up
		{fmt.Sprintf("0 */%d * * * *", sweepMinutes), ledger.NewSweepJob(ledgerService, cfg.PendingAgeWarnHours, log)},
		// NAVs publish in the evening; poll through the publication window
		{"0 0 16-23 * * *", funds.NewRefreshJob(fundsService, calendar, log)},
		// intraday estimate snapshots during trading hours
		{"0 */5 9-15 * * *", funds.NewEstimateSnapshotJob(fundsService, calendar, log)},
		{"@hourly", sessions.NewSweepJob(sessionStore, log)},
		{"0 30 * * * *", clientdata.NewCleanupJob(cacheRepo, log)},
		{"0 0 3 * * *", reliability.NewMaintenanceJob(databases, cacheStore, log)},
	}
	if backupService != nil {
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.Job
		}{"0 0 4 * * *", reliability.NewBackupJob(backupService, log)})
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("register %s: %w", j.job.Name(), err)
		}
	}
	return nil
}
