package merges

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// ConflictParams holds the caller-supplied fields for a new conflict.
type ConflictParams struct {
	AssetID        *string
	AssetVersionID *string
	Description    string
}

// RecordConflict attaches an unresolved conflict to a live merge.
func (s *Store) RecordConflict(actor, mergeID string, p ConflictParams) (*models.MergeConflict, error) {
	var out *models.MergeConflict
	err := s.db.Transaction(func(tx *gorm.DB) error {
		merge, err := loadMerge(tx, mergeID)
		if err != nil {
			return err
		}
		if merge.Status.Terminal() {
			return errs.StateConflict.New("merge %s is %s", mergeID, merge.Status)
		}

		conflict := &models.MergeConflict{
			ID:             uuid.New().String(),
			BranchMergeID:  mergeID,
			AssetID:        p.AssetID,
			AssetVersionID: p.AssetVersionID,
			Description:    p.Description,
		}
		if err := tx.Create(conflict).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = conflict
		return s.recorder.Append(tx, audit.Entry{
			Table:     conflict.TableName(),
			Operation: audit.OpInsert,
			EntityID:  conflict.ID,
			Actor:     actor,
			New:       map[string]any{"mergeId": mergeID, "description": p.Description},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveConflict records how a conflict was settled. Resolution text and
// the resolved timestamp land together, so a conflict is never half done.
func (s *Store) ResolveConflict(actor, conflictID, resolution string) (*models.MergeConflict, error) {
	if resolution == "" {
		return nil, errs.Validation.New("resolution text is required")
	}

	var out *models.MergeConflict
	err := s.db.Transaction(func(tx *gorm.DB) error {
		conflict, err := loadConflict(tx, conflictID)
		if err != nil {
			return err
		}
		merge, err := loadMerge(tx, conflict.BranchMergeID)
		if err != nil {
			return err
		}
		if merge.Status.Terminal() {
			return errs.StateConflict.New("merge %s is %s", merge.ID, merge.Status)
		}

		now := tx.NowFunc()
		conflict.Resolution = &resolution
		conflict.ResolvedAt = &now
		if err := tx.Save(conflict).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = conflict
		return s.recorder.Append(tx, audit.Entry{
			Table:     conflict.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  conflict.ID,
			Actor:     actor,
			New:       map[string]any{"resolution": resolution},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnresolveConflict reopens a previously resolved conflict.
func (s *Store) UnresolveConflict(actor, conflictID string) (*models.MergeConflict, error) {
	var out *models.MergeConflict
	err := s.db.Transaction(func(tx *gorm.DB) error {
		conflict, err := loadConflict(tx, conflictID)
		if err != nil {
			return err
		}
		merge, err := loadMerge(tx, conflict.BranchMergeID)
		if err != nil {
			return err
		}
		if merge.Status.Terminal() {
			return errs.StateConflict.New("merge %s is %s", merge.ID, merge.Status)
		}

		conflict.Resolution = nil
		conflict.ResolvedAt = nil
		if err := tx.Model(conflict).
			Updates(map[string]any{"resolution": nil, "resolved_at": nil}).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = conflict
		return s.recorder.Append(tx, audit.Entry{
			Table:     conflict.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  conflict.ID,
			Actor:     actor,
			New:       map[string]any{"reopened": true},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetConflict returns a conflict by ID, or nil if absent.
func (s *Store) GetConflict(id string) (*models.MergeConflict, error) {
	var conflict models.MergeConflict
	err := s.db.Where("id = ?", id).First(&conflict).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &conflict, nil
}

// ListConflicts returns a merge's conflicts in creation order.
func (s *Store) ListConflicts(mergeID string) ([]models.MergeConflict, error) {
	var conflicts []models.MergeConflict
	err := s.db.Where("branch_merge_id = ?", mergeID).Order("created_at").Find(&conflicts).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return conflicts, nil
}

func loadConflict(tx *gorm.DB, id string) (*models.MergeConflict, error) {
	var conflict models.MergeConflict
	if err := tx.Where("id = ?", id).First(&conflict).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFound.New("merge conflict %s not found", id)
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &conflict, nil
}
