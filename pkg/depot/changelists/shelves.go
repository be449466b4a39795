package changelists

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/identity"
)

// ShelfParams holds the caller-supplied fields for a new shelf.
type ShelfParams struct {
	ProjectID      string
	WorkspaceID    string
	AssetVersionID string
	ChangelistID   *string
	Description    string
}

// CreateShelf stages an asset version for review. A shelf tied to a
// changelist requires that changelist to still accept changes.
func (s *Store) CreateShelf(actor string, p ShelfParams) (*models.Shelf, error) {
	shelf := &models.Shelf{
		ID:             uuid.New().String(),
		WorkspaceID:    p.WorkspaceID,
		AssetVersionID: p.AssetVersionID,
		ChangelistID:   p.ChangelistID,
		Description:    p.Description,
		CreatedBy:      actor,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var workspace models.Workspace
		if err := tx.Where("id = ?", p.WorkspaceID).First(&workspace).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("workspace %s not found", p.WorkspaceID)
			}
			return errs.Internal.Wrap(err)
		}
		if workspace.ProjectID != p.ProjectID {
			return errs.NotFound.New("workspace %s not found", p.WorkspaceID)
		}
		if err := s.gate.EnsureActive(tx, workspace.ProjectID); err != nil {
			return err
		}

		var version models.AssetVersion
		if err := tx.Where("id = ?", p.AssetVersionID).First(&version).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("asset version %s not found", p.AssetVersionID)
			}
			return errs.Internal.Wrap(err)
		}
		var asset models.Asset
		if err := tx.Where("id = ?", version.AssetID).First(&asset).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if asset.ProjectID != workspace.ProjectID {
			return errs.Integrity.New("asset version %s belongs to another project", p.AssetVersionID)
		}

		if p.ChangelistID != nil {
			cl, err := loadChangelist(tx, *p.ChangelistID)
			if err != nil {
				return err
			}
			if cl.WorkspaceID != p.WorkspaceID {
				return errs.Integrity.New("changelist %s belongs to another workspace", *p.ChangelistID)
			}
			if cl.Status != models.ChangelistOpen && cl.Status != models.ChangelistPendingReview {
				return errs.StateConflict.New("changelist %s no longer accepts shelves", *p.ChangelistID)
			}
		}

		if err := tx.Create(shelf).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     shelf.TableName(),
			Operation: audit.OpInsert,
			EntityID:  shelf.ID,
			Actor:     actor,
			New:       map[string]any{"workspaceId": shelf.WorkspaceID, "assetVersionId": shelf.AssetVersionID},
		})
	})
	if err != nil {
		return nil, err
	}
	return shelf, nil
}

// ListShelves returns the shelves of a project workspace, newest first.
func (s *Store) ListShelves(projectID, workspaceID string) ([]models.Shelf, error) {
	var workspace models.Workspace
	if err := s.db.Where("id = ?", workspaceID).First(&workspace).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFound.New("workspace %s not found", workspaceID)
		}
		return nil, errs.Internal.Wrap(err)
	}
	if workspace.ProjectID != projectID {
		return nil, errs.NotFound.New("workspace %s not found", workspaceID)
	}

	var shelves []models.Shelf
	err := s.db.Where("workspace_id = ?", workspaceID).Order("created_at DESC").Find(&shelves).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return shelves, nil
}

// DeleteShelf removes a shelf. Only its creator or an admin may delete it;
// the shelved version itself is untouched.
func (s *Store) DeleteShelf(id identity.Identity, projectID, shelfID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var shelf models.Shelf
		if err := tx.Where("id = ?", shelfID).First(&shelf).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("shelf %s not found", shelfID)
			}
			return errs.Internal.Wrap(err)
		}
		var workspace models.Workspace
		if err := tx.Where("id = ?", shelf.WorkspaceID).First(&workspace).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if workspace.ProjectID != projectID {
			return errs.NotFound.New("shelf %s not found", shelfID)
		}
		if shelf.CreatedBy != id.UserID && !id.Admin() {
			return errs.Permission.New("shelf %s belongs to %s", shelfID, shelf.CreatedBy)
		}

		if err := tx.Delete(&shelf).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     shelf.TableName(),
			Operation: audit.OpDelete,
			EntityID:  shelf.ID,
			Actor:     id.UserID,
			Old:       map[string]any{"assetVersionId": shelf.AssetVersionID},
		})
	})
}
