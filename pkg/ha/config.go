// Package ha provides primitives for running the depot server with multiple
// replicas: migration locking and database-lease leader election for
// singleton background loops (merge workers, audit retention).
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for high-availability features.
type Config struct {
	// LeaderElectionEnabled controls whether lease-based leader election is
	// active. When false, the instance behaves as the sole leader (suitable
	// for single-replica deployments).
	LeaderElectionEnabled bool

	// LeaseName is the name of the lease row used for leader election.
	LeaseName string

	// LeaseDuration is how long a lease stays valid without renewal before
	// other candidates may take it over.
	LeaseDuration time.Duration

	// RenewInterval is how often the current leader refreshes its lease.
	RenewInterval time.Duration

	// RetryPeriod is how long non-leaders wait between acquisition attempts.
	RetryPeriod time.Duration

	// MigrationLockEnabled controls whether database migration locking is
	// used to prevent concurrent schema changes.
	MigrationLockEnabled bool

	// Identity is the unique identity of this instance for leader election.
	// Defaults to DEPOT_INSTANCE_ID or the hostname.
	Identity string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LeaderElectionEnabled: false,
		LeaseName:             "depot-server-leader",
		LeaseDuration:         15 * time.Second,
		RenewInterval:         5 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		Identity:              defaultIdentity(),
	}
}

// ConfigFromEnv reads HA configuration from environment variables, falling
// back to defaults for any unset variable.
//
// Environment variables:
//   - DEPOT_LEADER_ELECTION_ENABLED: "true" or "false" (default: "false")
//   - DEPOT_LEADER_LEASE_NAME: lease row name (default: "depot-server-leader")
//   - DEPOT_LEADER_LEASE_DURATION: seconds (default: 15)
//   - DEPOT_LEADER_RENEW_INTERVAL: seconds (default: 5)
//   - DEPOT_LEADER_RETRY_PERIOD: seconds (default: 2)
//   - DEPOT_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - DEPOT_INSTANCE_ID: instance identity for leader election
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DEPOT_LEADER_ELECTION_ENABLED"); v != "" {
		cfg.LeaderElectionEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DEPOT_LEADER_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("DEPOT_LEADER_LEASE_DURATION"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LeaseDuration = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DEPOT_LEADER_RENEW_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RenewInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DEPOT_LEADER_RETRY_PERIOD"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RetryPeriod = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DEPOT_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DEPOT_INSTANCE_ID"); v != "" {
		cfg.Identity = v
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("DEPOT_INSTANCE_ID"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
