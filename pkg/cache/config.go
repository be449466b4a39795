package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the response caching layer.
type Config struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// ProjectListTTL is the TTL for the project listing endpoint cache.
	ProjectListTTL time.Duration

	// ProjectDetailTTL is the TTL for single-project response caches.
	ProjectDetailTTL time.Duration

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		ProjectListTTL:   30 * time.Second,
		ProjectDetailTTL: 60 * time.Second,
		MaxSize:          1000,
	}
}

// ConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - DEPOT_CACHE_ENABLED: "true" or "false" (default: "true")
//   - DEPOT_CACHE_PROJECT_LIST_TTL: duration in seconds (default: 30)
//   - DEPOT_CACHE_PROJECT_DETAIL_TTL: duration in seconds (default: 60)
//   - DEPOT_CACHE_MAX_SIZE: max entries per cache (default: 1000)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DEPOT_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("DEPOT_CACHE_PROJECT_LIST_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ProjectListTTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("DEPOT_CACHE_PROJECT_DETAIL_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ProjectDetailTTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("DEPOT_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}
