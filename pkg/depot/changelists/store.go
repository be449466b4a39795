// Package changelists implements the submission pipeline: changelists
// collect asset-version edits in a workspace, shelves hold staged versions
// for review, and Submit lands an atomic bundle on a target branch.
package changelists

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// Store persists changelists, their items, and shelves.
type Store struct {
	db       *gorm.DB
	gate     authz.ProjectGate
	recorder *audit.Recorder
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, gate authz.ProjectGate, recorder *audit.Recorder) *Store {
	return &Store{db: db, gate: gate, recorder: recorder}
}

// AutoMigrate migrates the changelist tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Changelist{}, &models.ChangelistItem{}, &models.Shelf{})
}

// CreateParams holds the caller-supplied fields for a new changelist.
type CreateParams struct {
	ProjectID      string
	WorkspaceID    string
	TargetBranchID *string
	Description    string
}

// Create opens a new changelist in a workspace.
func (s *Store) Create(actor string, p CreateParams) (*models.Changelist, error) {
	cl := &models.Changelist{
		ID:             uuid.New().String(),
		ProjectID:      p.ProjectID,
		WorkspaceID:    p.WorkspaceID,
		CreatedBy:      actor,
		TargetBranchID: p.TargetBranchID,
		Status:         models.ChangelistOpen,
		Description:    p.Description,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.gate.EnsureActive(tx, p.ProjectID); err != nil {
			return err
		}

		var workspace models.Workspace
		if err := tx.Where("id = ?", p.WorkspaceID).First(&workspace).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("workspace %s not found", p.WorkspaceID)
			}
			return errs.Internal.Wrap(err)
		}
		if workspace.ProjectID != p.ProjectID {
			return errs.Integrity.New("workspace %s belongs to another project", p.WorkspaceID)
		}

		if p.TargetBranchID != nil {
			if err := branchInProject(tx, *p.TargetBranchID, p.ProjectID); err != nil {
				return err
			}
		}

		if err := tx.Create(cl).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     cl.TableName(),
			Operation: audit.OpInsert,
			EntityID:  cl.ID,
			Actor:     actor,
			New:       map[string]any{"workspaceId": cl.WorkspaceID, "status": string(cl.Status)},
		})
	})
	if err != nil {
		return nil, err
	}
	return cl, nil
}

// Get returns a changelist by ID, or nil if absent.
func (s *Store) Get(id string) (*models.Changelist, error) {
	var cl models.Changelist
	err := s.db.Where("id = ?", id).First(&cl).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &cl, nil
}

// List returns the changelists of a project, optionally filtered by status
// and creator, newest first.
func (s *Store) List(projectID string, status models.ChangelistStatus, createdBy string) ([]models.Changelist, error) {
	query := s.db.Where("project_id = ?", projectID).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if createdBy != "" {
		query = query.Where("created_by = ?", createdBy)
	}
	var lists []models.Changelist
	if err := query.Find(&lists).Error; err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return lists, nil
}

// UpdateParams holds the mutable changelist fields. Nil means unchanged.
type UpdateParams struct {
	Description    *string
	TargetBranchID *string
}

// Update edits a changelist's description or target branch. Allowed while
// open or pending review.
func (s *Store) Update(actor, id string, p UpdateParams) (*models.Changelist, error) {
	var out *models.Changelist
	err := s.db.Transaction(func(tx *gorm.DB) error {
		cl, err := loadChangelist(tx, id)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, cl.ProjectID); err != nil {
			return err
		}
		if cl.Status != models.ChangelistOpen && cl.Status != models.ChangelistPendingReview {
			return errs.StateConflict.New("changelist %s is %s", id, cl.Status)
		}

		if p.Description != nil {
			cl.Description = *p.Description
		}
		if p.TargetBranchID != nil {
			if *p.TargetBranchID == "" {
				cl.TargetBranchID = nil
			} else {
				if err := branchInProject(tx, *p.TargetBranchID, cl.ProjectID); err != nil {
					return err
				}
				cl.TargetBranchID = p.TargetBranchID
			}
		}

		if err := tx.Save(cl).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = cl
		return s.recorder.Append(tx, audit.Entry{
			Table:     cl.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  cl.ID,
			Actor:     actor,
			New:       map[string]any{"description": cl.Description},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddItem attaches an asset version to an open changelist. Adding the same
// version again updates the recorded action instead of duplicating it.
func (s *Store) AddItem(actor, changelistID, assetVersionID string, action models.ItemAction, targetBranchID *string) (*models.ChangelistItem, error) {
	if !models.ValidItemAction(action) {
		return nil, errs.Validation.New("unknown item action %q", action)
	}

	var out *models.ChangelistItem
	err := s.db.Transaction(func(tx *gorm.DB) error {
		cl, err := loadChangelist(tx, changelistID)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, cl.ProjectID); err != nil {
			return err
		}
		if cl.Status != models.ChangelistOpen {
			return errs.StateConflict.New("items can only change while the changelist is open")
		}

		var version models.AssetVersion
		if err := tx.Where("id = ?", assetVersionID).First(&version).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("asset version %s not found", assetVersionID)
			}
			return errs.Internal.Wrap(err)
		}
		var asset models.Asset
		if err := tx.Where("id = ?", version.AssetID).First(&asset).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if asset.ProjectID != cl.ProjectID {
			return errs.Integrity.New("asset version %s belongs to another project", assetVersionID)
		}

		if targetBranchID != nil {
			if err := branchInProject(tx, *targetBranchID, cl.ProjectID); err != nil {
				return err
			}
		}

		var existing models.ChangelistItem
		err = tx.Where("changelist_id = ? AND asset_version_id = ?", changelistID, assetVersionID).
			First(&existing).Error
		switch {
		case err == nil:
			existing.Action = action
			existing.TargetBranchID = targetBranchID
			if err := tx.Save(&existing).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
			out = &existing
			return nil
		case err == gorm.ErrRecordNotFound:
			item := &models.ChangelistItem{
				ID:             uuid.New().String(),
				ChangelistID:   changelistID,
				AssetVersionID: assetVersionID,
				Action:         action,
				TargetBranchID: targetBranchID,
			}
			if err := tx.Create(item).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
			out = item
			return nil
		default:
			return errs.Internal.Wrap(err)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveItem detaches an item from an open changelist.
func (s *Store) RemoveItem(actor, changelistID, itemID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		cl, err := loadChangelist(tx, changelistID)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, cl.ProjectID); err != nil {
			return err
		}
		if cl.Status != models.ChangelistOpen {
			return errs.StateConflict.New("items can only change while the changelist is open")
		}

		result := tx.Where("id = ? AND changelist_id = ?", itemID, changelistID).
			Delete(&models.ChangelistItem{})
		if result.Error != nil {
			return errs.Internal.Wrap(result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound.New("changelist item %s not found", itemID)
		}
		return nil
	})
}

// ListItems returns a changelist's items in insertion order.
func (s *Store) ListItems(changelistID string) ([]models.ChangelistItem, error) {
	var items []models.ChangelistItem
	err := s.db.Where("changelist_id = ?", changelistID).Order("created_at").Find(&items).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return items, nil
}

// MarkPendingReview moves an open changelist to pending review.
func (s *Store) MarkPendingReview(actor, id string) (*models.Changelist, error) {
	return s.transition(actor, id, models.ChangelistPendingReview, models.ChangelistOpen)
}

// ReturnToOpen moves a pending-review changelist back to open.
func (s *Store) ReturnToOpen(actor, id string) (*models.Changelist, error) {
	return s.transition(actor, id, models.ChangelistOpen, models.ChangelistPendingReview)
}

// Abandon discards an open changelist. Versions referenced by its items
// survive.
func (s *Store) Abandon(actor, id string) (*models.Changelist, error) {
	return s.transition(actor, id, models.ChangelistAbandoned, models.ChangelistOpen)
}

func (s *Store) transition(actor, id string, to models.ChangelistStatus, from ...models.ChangelistStatus) (*models.Changelist, error) {
	var out *models.Changelist
	err := s.db.Transaction(func(tx *gorm.DB) error {
		cl, err := loadChangelist(tx, id)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, cl.ProjectID); err != nil {
			return err
		}

		allowed := false
		for _, f := range from {
			if cl.Status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return errs.StateConflict.New("changelist %s cannot move from %s to %s", id, cl.Status, to)
		}

		old := cl.Status
		cl.Status = to
		if err := tx.Model(cl).Update("status", to).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = cl
		return s.recorder.Append(tx, audit.Entry{
			Table:     cl.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  cl.ID,
			Actor:     actor,
			Old:       map[string]any{"status": string(old)},
			New:       map[string]any{"status": string(to)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Submit lands a changelist on its target branch. The changelist must be
// open or pending review, carry at least one item, and name a target
// branch. Locks on the bundled assets stay held until explicitly released.
// A submitted changelist cannot be submitted again.
func (s *Store) Submit(actor, id, notes string) (*models.Changelist, error) {
	var out *models.Changelist
	err := s.db.Transaction(func(tx *gorm.DB) error {
		cl, err := loadChangelist(tx, id)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, cl.ProjectID); err != nil {
			return err
		}
		if cl.Status != models.ChangelistOpen && cl.Status != models.ChangelistPendingReview {
			return errs.StateConflict.New("changelist %s is %s and cannot be submitted", id, cl.Status)
		}
		if cl.TargetBranchID == nil {
			return errs.Validation.New("changelist %s has no target branch", id)
		}

		var items []models.ChangelistItem
		if err := tx.Where("changelist_id = ?", id).Find(&items).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if len(items) == 0 {
			return errs.Validation.New("changelist %s has no items", id)
		}

		old := cl.Status
		now := tx.NowFunc()
		cl.Status = models.ChangelistSubmitted
		cl.SubmitterNotes = notes
		cl.SubmittedAt = &now
		if err := tx.Save(cl).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		out = cl
		return s.recorder.Append(tx, audit.Entry{
			Table:     cl.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  cl.ID,
			Actor:     actor,
			Old:       map[string]any{"status": string(old)},
			New:       map[string]any{"status": string(models.ChangelistSubmitted), "items": len(items)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadChangelist(tx *gorm.DB, id string) (*models.Changelist, error) {
	var cl models.Changelist
	if err := tx.Where("id = ?", id).First(&cl).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFound.New("changelist %s not found", id)
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &cl, nil
}

func branchInProject(tx *gorm.DB, branchID, projectID string) error {
	var branch models.Branch
	if err := tx.Where("id = ?", branchID).First(&branch).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errs.NotFound.New("branch %s not found", branchID)
		}
		return errs.Internal.Wrap(err)
	}
	if branch.ProjectID != projectID {
		return errs.Integrity.New("branch %s belongs to another project", branchID)
	}
	return nil
}
