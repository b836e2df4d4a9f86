// Package server provides the HTTP server and routing for fundfolio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/config"
	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/modules/accounts"
	accountshandlers "github.com/aristath/fundfolio/internal/modules/accounts/handlers"
	"github.com/aristath/fundfolio/internal/modules/funds"
	fundshandlers "github.com/aristath/fundfolio/internal/modules/funds/handlers"
	"github.com/aristath/fundfolio/internal/modules/history"
	historyhandlers "github.com/aristath/fundfolio/internal/modules/history/handlers"
	"github.com/aristath/fundfolio/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/fundfolio/internal/modules/ledger/handlers"
	"github.com/aristath/fundfolio/internal/modules/market_hours"
	markethandlers "github.com/aristath/fundfolio/internal/modules/market_hours/handlers"
	"github.com/aristath/fundfolio/internal/modules/sessions"
	"github.com/aristath/fundfolio/internal/modules/settings"
	settingshandlers "github.com/aristath/fundfolio/internal/modules/settings/handlers"
	"github.com/aristath/fundfolio/internal/reliability"
	"github.com/aristath/fundfolio/internal/scheduler"
)

// Config holds everything the server wires into routes.
type Config struct {
	Log      zerolog.Logger
	Cfg      *config.Config
	LedgerDB *database.DB
	MarketDB *database.DB
	CacheDB  *database.DB

	LedgerService  *ledger.Service
	AccountService *accounts.Service
	FundService    *funds.Service
	HistoryService *history.Service
	MarketHours    *market_hours.Service
	SettingsRepo   *settings.Repository
	SessionStore   sessions.Store
	Scheduler      *scheduler.Scheduler
	BackupService  *reliability.BackupService // nil when backups are not configured
}

// Server is the HTTP front of the application.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	cfg      *config.Config
	deps     Config
	system   *SystemHandlers
	sessions *SessionHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg.Cfg,
		deps:   cfg,
	}

	s.system = NewSystemHandlers(
		cfg.Log,
		cfg.Cfg.DataDir,
		[]*database.DB{cfg.LedgerDB, cfg.MarketDB, cfg.CacheDB},
		cfg.LedgerService,
		cfg.Scheduler,
		cfg.BackupService,
	)
	s.sessions = NewSessionHandlers(cfg.SessionStore, cfg.Cfg.DevMode, cfg.Log)

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes registers all module routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// session minting must stay reachable without a token
		r.Post("/sessions", s.sessions.HandleCreate)

		r.Group(func(r chi.Router) {
			r.Use(s.sessionMiddleware)

			ledgerhandlers.RegisterRoutes(r, ledgerhandlers.NewHandler(s.deps.LedgerService, s.log))
			historyhandlers.RegisterRoutes(r, historyhandlers.NewHandler(s.deps.HistoryService, s.log))
			settingshandlers.RegisterRoutes(r, settingshandlers.NewHandler(s.deps.SettingsRepo, s.log))

			accountshandlers.NewHandler(s.deps.AccountService, s.log).RegisterRoutes(r)
			fundshandlers.NewHandler(s.deps.FundService, s.cfg.StreamInterval, s.log).RegisterRoutes(r)
			markethandlers.NewHandler(s.deps.MarketHours, s.log).RegisterRoutes(r)

			r.Delete("/sessions/current", s.sessions.HandleLogout)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.system.HandleStatus)
				r.Get("/jobs", s.system.HandleJobs)
				r.Get("/backups", s.system.HandleBackups)
			})
		})
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth reports liveness plus a quick ping of each database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, 3)
	for _, db := range []*database.DB{s.deps.LedgerDB, s.deps.MarketDB, s.deps.CacheDB} {
		if err := db.HealthCheck(ctx); err != nil {
			checks[db.Name()] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[db.Name()] = "ok"
		}
	}

	writeJSON(s.log, w, status, map[string]interface{}{
		"status":    http.StatusText(status),
		"databases": checks,
	})
}
