package workspaces

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/identity"
)

// LockManager grants and releases exclusive asset locks. At most one live
// lock exists per asset; the unique index on asset_id backs that up at the
// database level.
type LockManager struct {
	db       *gorm.DB
	gate     authz.ProjectGate
	recorder *audit.Recorder
}

// NewLockManager creates a LockManager.
func NewLockManager(db *gorm.DB, gate authz.ProjectGate, recorder *audit.Recorder) *LockManager {
	return &LockManager{db: db, gate: gate, recorder: recorder}
}

// AcquireParams holds the caller-supplied fields for a lock request.
type AcquireParams struct {
	ProjectID   string
	AssetID     string
	WorkspaceID *string
	Notes       string
	TTL         time.Duration // Zero means the lock never expires.
}

// isDuplicateKey reports whether err is a unique-index violation. Two
// racing acquires can both miss the existing-lock read; the loser's insert
// then trips the unique index on asset_id.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "Duplicate entry")
}

// Acquire takes or refreshes the lock on an asset. A lock held by someone
// else is a conflict unless it has expired, in which case it is replaced.
// Re-acquiring one's own lock refreshes its expiry and notes.
func (m *LockManager) Acquire(actor string, p AcquireParams) (*models.AssetLock, error) {
	var out *models.AssetLock
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		if err := tx.Where("id = ?", p.AssetID).First(&asset).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("asset %s not found", p.AssetID)
			}
			return errs.Internal.Wrap(err)
		}
		if asset.ProjectID != p.ProjectID {
			return errs.NotFound.New("asset %s not found", p.AssetID)
		}
		if err := m.gate.EnsureActive(tx, asset.ProjectID); err != nil {
			return err
		}

		if p.WorkspaceID != nil {
			var workspace models.Workspace
			if err := tx.Where("id = ?", *p.WorkspaceID).First(&workspace).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return errs.NotFound.New("workspace %s not found", *p.WorkspaceID)
				}
				return errs.Internal.Wrap(err)
			}
			if workspace.ProjectID != asset.ProjectID {
				return errs.Integrity.New("workspace %s belongs to another project", *p.WorkspaceID)
			}
		}

		now := tx.NowFunc()
		var expiresAt *time.Time
		if p.TTL > 0 {
			t := now.Add(p.TTL)
			expiresAt = &t
		}

		var existing models.AssetLock
		err := tx.Where("asset_id = ?", p.AssetID).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			// fall through to create
		case err != nil:
			return errs.Internal.Wrap(err)
		case existing.LockedBy == actor:
			existing.WorkspaceID = p.WorkspaceID
			existing.Notes = p.Notes
			existing.ExpiresAt = expiresAt
			if err := tx.Save(&existing).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
			out = &existing
			return m.recorder.Append(tx, audit.Entry{
				Table:     existing.TableName(),
				Operation: audit.OpUpdate,
				EntityID:  existing.ID,
				Actor:     actor,
				New:       map[string]any{"assetId": p.AssetID, "refreshed": true},
			})
		case existing.ExpiredAt(now):
			if err := tx.Delete(&existing).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
			// fall through to create
		default:
			return errs.StateConflict.New("asset %s is locked by %s", p.AssetID, existing.LockedBy)
		}

		lock := &models.AssetLock{
			ID:          uuid.New().String(),
			AssetID:     p.AssetID,
			LockedBy:    actor,
			WorkspaceID: p.WorkspaceID,
			Notes:       p.Notes,
			ExpiresAt:   expiresAt,
		}
		if err := tx.Create(lock).Error; err != nil {
			if isDuplicateKey(err) {
				return errs.StateConflict.New("asset %s is locked", p.AssetID)
			}
			return errs.Internal.Wrap(err)
		}
		out = lock
		return m.recorder.Append(tx, audit.Entry{
			Table:     lock.TableName(),
			Operation: audit.OpInsert,
			EntityID:  lock.ID,
			Actor:     actor,
			New:       map[string]any{"assetId": p.AssetID, "lockedBy": actor},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release drops the lock on an asset. The holder may always release; an
// admin may force-release anyone's lock. Releasing an asset that is not
// locked succeeds and does nothing.
func (m *LockManager) Release(id identity.Identity, projectID, assetID string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		if err := tx.Where("id = ?", assetID).First(&asset).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("asset %s not found", assetID)
			}
			return errs.Internal.Wrap(err)
		}
		if asset.ProjectID != projectID {
			return errs.NotFound.New("asset %s not found", assetID)
		}

		var lock models.AssetLock
		err := tx.Where("asset_id = ?", assetID).First(&lock).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return errs.Internal.Wrap(err)
		}

		if lock.LockedBy != id.UserID && !id.Admin() {
			return errs.Permission.New("lock on asset %s is held by %s", assetID, lock.LockedBy)
		}

		if err := tx.Delete(&lock).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		entry := audit.Entry{
			Table:     lock.TableName(),
			Operation: audit.OpDelete,
			EntityID:  lock.ID,
			Actor:     id.UserID,
			Old:       map[string]any{"assetId": assetID, "lockedBy": lock.LockedBy},
		}
		if lock.LockedBy != id.UserID {
			entry.Old["forced"] = true
		}
		return m.recorder.Append(tx, entry)
	})
}

// GetLock returns the current lock on an asset, or nil when unlocked.
func (m *LockManager) GetLock(assetID string) (*models.AssetLock, error) {
	var lock models.AssetLock
	err := m.db.Where("asset_id = ?", assetID).First(&lock).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &lock, nil
}

// ListLocks returns the locks held within a project, optionally filtered
// by holder.
func (m *LockManager) ListLocks(projectID, holder string) ([]models.AssetLock, error) {
	query := m.db.
		Joins("JOIN assets ON assets.id = asset_locks.asset_id").
		Where("assets.project_id = ?", projectID).
		Order("asset_locks.locked_at")
	if holder != "" {
		query = query.Where("asset_locks.locked_by = ?", holder)
	}
	var locks []models.AssetLock
	if err := query.Find(&locks).Error; err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return locks, nil
}
