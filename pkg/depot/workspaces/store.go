// Package workspaces manages per-user sandboxes and the exclusive asset
// locks scoped to them.
package workspaces

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// Store persists workspaces.
type Store struct {
	db       *gorm.DB
	gate     authz.ProjectGate
	recorder *audit.Recorder
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, gate authz.ProjectGate, recorder *audit.Recorder) *Store {
	return &Store{db: db, gate: gate, recorder: recorder}
}

// AutoMigrate migrates the workspace tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Workspace{}, &models.AssetLock{})
}

// CreateParams holds the caller-supplied fields for a new workspace.
type CreateParams struct {
	ProjectID   string
	UserID      string
	BranchID    *string
	Name        string
	Description string
}

// Create inserts a workspace. A user may hold several per project as long
// as the names differ.
func (s *Store) Create(actor string, p CreateParams) (*models.Workspace, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, errs.Validation.New("workspace name is required")
	}

	workspace := &models.Workspace{
		ID:          uuid.New().String(),
		ProjectID:   p.ProjectID,
		UserID:      p.UserID,
		BranchID:    p.BranchID,
		Name:        p.Name,
		Description: p.Description,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.gate.EnsureActive(tx, p.ProjectID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Workspace{}).
			Where("project_id = ? AND user_id = ? AND name = ?", p.ProjectID, p.UserID, p.Name).
			Count(&count).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if count > 0 {
			return errs.Validation.New("workspace %q already exists for this user", p.Name)
		}

		if p.BranchID != nil {
			var branch models.Branch
			if err := tx.Where("id = ?", *p.BranchID).First(&branch).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return errs.NotFound.New("branch %s not found", *p.BranchID)
				}
				return errs.Internal.Wrap(err)
			}
			if branch.ProjectID != p.ProjectID {
				return errs.Integrity.New("branch %s belongs to another project", *p.BranchID)
			}
		}

		if err := tx.Create(workspace).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     workspace.TableName(),
			Operation: audit.OpInsert,
			EntityID:  workspace.ID,
			Actor:     actor,
			New:       map[string]any{"name": workspace.Name, "userId": workspace.UserID},
		})
	})
	if err != nil {
		return nil, err
	}
	return workspace, nil
}

// Get returns a workspace by ID, or nil if absent.
func (s *Store) Get(id string) (*models.Workspace, error) {
	var workspace models.Workspace
	err := s.db.Where("id = ?", id).First(&workspace).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &workspace, nil
}

// List returns the workspaces of a project, optionally filtered by user.
func (s *Store) List(projectID, userID string) ([]models.Workspace, error) {
	query := s.db.Where("project_id = ?", projectID).Order("created_at")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var workspaces []models.Workspace
	if err := query.Find(&workspaces).Error; err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return workspaces, nil
}

// MarkSynced stamps the workspace's last sync time.
func (s *Store) MarkSynced(id string) (*models.Workspace, error) {
	var out *models.Workspace
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var workspace models.Workspace
		if err := tx.Where("id = ?", id).First(&workspace).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("workspace %s not found", id)
			}
			return errs.Internal.Wrap(err)
		}
		now := tx.NowFunc()
		workspace.LastSyncedAt = &now
		if err := tx.Model(&workspace).Update("last_synced_at", now).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = &workspace
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a workspace. Workspaces with open or pending changelists
// cannot be deleted; their locks are released with them.
func (s *Store) Delete(actor, id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var workspace models.Workspace
		if err := tx.Where("id = ?", id).First(&workspace).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("workspace %s not found", id)
			}
			return errs.Internal.Wrap(err)
		}

		var active int64
		if err := tx.Model(&models.Changelist{}).
			Where("workspace_id = ? AND status IN ?", id,
				[]models.ChangelistStatus{models.ChangelistOpen, models.ChangelistPendingReview}).
			Count(&active).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if active > 0 {
			return errs.StateConflict.New("workspace %s has active changelists", id)
		}

		if err := tx.Where("workspace_id = ?", id).Delete(&models.AssetLock{}).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if err := tx.Delete(&workspace).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     workspace.TableName(),
			Operation: audit.OpDelete,
			EntityID:  workspace.ID,
			Actor:     actor,
			Old:       map[string]any{"name": workspace.Name, "userId": workspace.UserID},
		})
	})
}
