package audit

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config controls audit retention.
type Config struct {
	RetentionDays int  // Default 90. Zero disables the sweep.
	Enabled       bool // Whether the retention sweeper runs.
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		Enabled:       true,
	}
}

// ConfigFromEnv loads config from environment variables.
// DEPOT_AUDIT_RETENTION_DAYS, DEPOT_AUDIT_ENABLED
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("DEPOT_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.RetentionDays = days
		}
	}
	if v := os.Getenv("DEPOT_AUDIT_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	return cfg
}

// RunRetention periodically deletes records older than the retention
// horizon. It blocks until the context is cancelled.
func RunRetention(ctx context.Context, store *Store, cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled || cfg.RetentionDays <= 0 {
		logger.Info("audit retention sweep disabled")
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
			deleted, err := store.DeleteOlderThan(cutoff)
			if err != nil {
				logger.Error("audit retention sweep failed", "error", err)
			} else if deleted > 0 {
				logger.Info("audit retention sweep", "deleted", deleted)
			}
		}
	}
}
