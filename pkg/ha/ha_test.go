package ha

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newElector(db *gorm.DB, identity string) *LeaderElector {
	cfg := DefaultConfig()
	cfg.Identity = identity
	cfg.LeaseDuration = 15 * time.Second
	return NewLeaderElector(db, cfg, nil)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DEPOT_LEADER_ELECTION_ENABLED", "true")
	t.Setenv("DEPOT_LEADER_LEASE_NAME", "custom-lease")
	t.Setenv("DEPOT_LEADER_LEASE_DURATION", "30")
	t.Setenv("DEPOT_LEADER_RENEW_INTERVAL", "10")
	t.Setenv("DEPOT_MIGRATION_LOCK_ENABLED", "false")
	t.Setenv("DEPOT_INSTANCE_ID", "replica-1")

	cfg := ConfigFromEnv()
	assert.True(t, cfg.LeaderElectionEnabled)
	assert.Equal(t, "custom-lease", cfg.LeaseName)
	assert.Equal(t, 30*time.Second, cfg.LeaseDuration)
	assert.Equal(t, 10*time.Second, cfg.RenewInterval)
	assert.False(t, cfg.MigrationLockEnabled)
	assert.Equal(t, "replica-1", cfg.Identity)
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.LeaderElectionEnabled)
	assert.Equal(t, "depot-server-leader", cfg.LeaseName)
	assert.True(t, cfg.MigrationLockEnabled)
	assert.NotEmpty(t, cfg.Identity)
}

func TestLeaderElectionSingleHolder(t *testing.T) {
	db := setupTestDB(t)
	a := newElector(db, "replica-a")
	b := newElector(db, "replica-b")

	require.True(t, a.TryAcquire())
	assert.False(t, b.TryAcquire(), "second replica must not take a held lease")

	// The holder can re-acquire (refresh) its own lease.
	assert.True(t, a.TryAcquire())
}

func TestLeaderElectionStaleTakeover(t *testing.T) {
	db := setupTestDB(t)
	a := newElector(db, "replica-a")
	b := newElector(db, "replica-b")

	require.True(t, a.TryAcquire())

	// Age the lease past its duration.
	err := db.Model(&leaderLease{}).
		Where("name = ?", a.config.LeaseName).
		Update("renewed_at", time.Now().UTC().Add(-time.Minute)).Error
	require.NoError(t, err)

	assert.True(t, b.TryAcquire(), "stale lease should be reclaimable")

	// The old holder lost the lease and can no longer renew.
	assert.False(t, a.renew())
}

func TestLeaderElectionRelease(t *testing.T) {
	db := setupTestDB(t)
	a := newElector(db, "replica-a")
	b := newElector(db, "replica-b")

	require.True(t, a.TryAcquire())
	a.release()
	assert.True(t, b.TryAcquire())
}

func TestMigrationLockRunsFn(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db)

	ran := false
	err := locker.WithLock(context.Background(), func() error {
		ran = true

		// The lock row is held while fn runs.
		var count int64
		require.NoError(t, db.Model(&migrationLockRecord{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Released after fn returns.
	var count int64
	require.NoError(t, db.Model(&migrationLockRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestMigrationLockNilDB(t *testing.T) {
	locker := NewMigrationLocker(nil)
	ran := false
	require.NoError(t, locker.WithLock(context.Background(), func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}
