package ha

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

// leaderLease is the lease row contended for by replicas. The holder refreshes
// renewed_at on every renewal; a lease whose renewed_at is older than the
// configured LeaseDuration is stale and may be taken over.
type leaderLease struct {
	Name      string    `gorm:"primaryKey;column:name"`
	Holder    string    `gorm:"column:holder"`
	RenewedAt time.Time `gorm:"column:renewed_at"`
}

func (leaderLease) TableName() string { return "leader_leases" }

// LeaderElector manages database-lease leader election for singleton
// background loops. Only the elected leader replica runs loops such as the
// merge worker pool and audit retention.
type LeaderElector struct {
	db       *gorm.DB
	config   *Config
	logger   *slog.Logger
	mu       sync.RWMutex
	isLeader bool
	onStart  func(ctx context.Context)
	onStop   func()
}

// NewLeaderElector creates a LeaderElector contending on the shared database.
// The config Identity must be unique per replica.
func NewLeaderElector(db *gorm.DB, cfg *Config, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	// Create the lease table up front so concurrent candidates never hit
	// "no such table" errors on their first acquisition attempt.
	_ = db.AutoMigrate(&leaderLease{})
	return &LeaderElector{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// OnStartLeading registers a callback invoked when this instance becomes
// leader. The provided context is cancelled when leadership is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when this instance loses leadership.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader returns true if this instance is the current leader.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// Run starts leader election. It blocks until the context is cancelled.
// When this instance becomes leader, it calls the OnStartLeading callback;
// when leadership is lost or the context ends, it calls OnStopLeading.
func (le *LeaderElector) Run(ctx context.Context) {
	le.logger.Info("starting leader election",
		"identity", le.config.Identity,
		"lease", le.config.LeaseName,
		"leaseDuration", le.config.LeaseDuration,
		"renewInterval", le.config.RenewInterval,
	)

	for {
		if le.TryAcquire() {
			le.lead(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(le.config.RetryPeriod):
		}
	}
}

// TryAcquire makes a single attempt to take the lease. It reclaims stale
// leases and refreshes the lease when this instance already holds it.
func (le *LeaderElector) TryAcquire() bool {
	now := time.Now().UTC()

	le.db.Where("name = ? AND renewed_at < ?",
		le.config.LeaseName, now.Add(-le.config.LeaseDuration)).Delete(&leaderLease{})

	res := le.db.Create(&leaderLease{
		Name:      le.config.LeaseName,
		Holder:    le.config.Identity,
		RenewedAt: now,
	})
	if res.Error == nil {
		return true
	}

	// The row exists. It is ours if we held it before a restart.
	return le.renew()
}

func (le *LeaderElector) renew() bool {
	res := le.db.Model(&leaderLease{}).
		Where("name = ? AND holder = ?", le.config.LeaseName, le.config.Identity).
		Update("renewed_at", time.Now().UTC())
	return res.Error == nil && res.RowsAffected == 1
}

func (le *LeaderElector) release() {
	le.db.Where("name = ? AND holder = ?", le.config.LeaseName, le.config.Identity).
		Delete(&leaderLease{})
}

// lead holds the lease until renewal fails or ctx is cancelled.
func (le *LeaderElector) lead(ctx context.Context) {
	le.mu.Lock()
	le.isLeader = true
	le.mu.Unlock()
	le.logger.Info("elected as leader", "identity", le.config.Identity)

	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if le.onStart != nil {
		go le.onStart(leadCtx)
	}

	ticker := time.NewTicker(le.config.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			le.release()
			le.stopLeading()
			return
		case <-ticker.C:
			if !le.renew() {
				le.logger.Warn("lost leadership", "identity", le.config.Identity)
				le.stopLeading()
				return
			}
		}
	}
}

func (le *LeaderElector) stopLeading() {
	le.mu.Lock()
	le.isLeader = false
	le.mu.Unlock()
	if le.onStop != nil {
		le.onStop()
	}
}
