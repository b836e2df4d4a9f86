// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/fundfolio/internal/modules/settings"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	// Trade settlement
	TradeCutoff   string // "15:04" wall-clock cutoff; trades before it price against the previous trading day
	CutoffHour    int    // parsed from TradeCutoff
	CutoffMinute  int    // parsed from TradeCutoff
	MultiTenant   bool   // when false every request runs in the global scope
	SessionTTL    time.Duration
	HistoryMaxDays int

	// Providers
	ProviderTimeout  time.Duration
	EstimateCacheTTL time.Duration
	StreamInterval   time.Duration // push cadence of the watchlist quote stream

	// Background jobs
	SweepIntervalMinutes int
	PendingAgeWarnHours  int

	// Indicators
	RiskFreeRate float64 // annualized, e.g. 0.02

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup configuration.
// Backups are disabled unless a bucket is configured.
type BackupConfig struct {
	Bucket        string
	Endpoint      string // custom endpoint for R2/minio style stores, empty for AWS
	Region        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Enabled reports whether backup uploads are configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory, resolve to absolute path, ensure it exists
	dataDir := getEnv("FUNDFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("PORT", 8000),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		TradeCutoff:          getEnv("TRADE_CUTOFF", "15:00"),
		MultiTenant:          getEnvAsBool("MULTI_TENANT", false),
		SessionTTL:           time.Duration(getEnvAsInt("SESSION_TTL_HOURS", 720)) * time.Hour,
		HistoryMaxDays:       getEnvAsInt("HISTORY_MAX_DAYS", 365),
		ProviderTimeout:      time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
		EstimateCacheTTL:     time.Duration(getEnvAsInt("ESTIMATE_CACHE_TTL_SECONDS", 60)) * time.Second,
		StreamInterval:       time.Duration(getEnvAsInt("STREAM_INTERVAL_SECONDS", 5)) * time.Second,
		SweepIntervalMinutes: getEnvAsInt("SWEEP_INTERVAL_MINUTES", 10),
		PendingAgeWarnHours:  getEnvAsInt("PENDING_AGE_WARN_HOURS", 48),
		RiskFreeRate:         getEnvAsFloat("RISK_FREE_RATE", 0.02),
		Backup: &BackupConfig{
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateFromSettings updates configuration from the settings database.
// This should be called after the ledger database is initialized.
// Settings DB values take precedence over environment variables.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	cutoff, err := settingsRepo.Get("trade_cutoff")
	if err != nil {
		return fmt.Errorf("failed to get trade_cutoff from settings: %w", err)
	}
	if cutoff != nil && *cutoff != "" {
		c.TradeCutoff = *cutoff
		if err := c.parseCutoff(); err != nil {
			return err
		}
	}

	sweep, err := settingsRepo.Get("sweep_interval_minutes")
	if err != nil {
		return fmt.Errorf("failed to get sweep_interval_minutes from settings: %w", err)
	}
	if sweep != nil && *sweep != "" {
		if n, err := strconv.Atoi(*sweep); err == nil && n > 0 {
			c.SweepIntervalMinutes = n
		}
	}

	maxDays, err := settingsRepo.Get("history_max_days")
	if err != nil {
		return fmt.Errorf("failed to get history_max_days from settings: %w", err)
	}
	if maxDays != nil && *maxDays != "" {
		if n, err := strconv.Atoi(*maxDays); err == nil && n > 0 {
			c.HistoryMaxDays = n
		}
	}

	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if err := c.parseCutoff(); err != nil {
		return err
	}
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %d", c.SweepIntervalMinutes)
	}
	if c.HistoryMaxDays <= 0 {
		return fmt.Errorf("history max days must be positive, got %d", c.HistoryMaxDays)
	}
	return nil
}

func (c *Config) parseCutoff() error {
	t, err := time.Parse("15:04", c.TradeCutoff)
	if err != nil {
		return fmt.Errorf("invalid trade cutoff %q, want HH:MM: %w", c.TradeCutoff, err)
	}
	c.CutoffHour = t.Hour()
	c.CutoffMinute = t.Minute()
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
