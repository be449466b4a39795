// Package branches manages integration streams within a project. Branches
// form a forest via optional parent links; the store keeps that forest
// acyclic and scoped to a single project.
package branches

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// Store persists branches.
type Store struct {
	db       *gorm.DB
	gate     authz.ProjectGate
	recorder *audit.Recorder
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, gate authz.ProjectGate, recorder *audit.Recorder) *Store {
	return &Store{db: db, gate: gate, recorder: recorder}
}

// AutoMigrate migrates the branch table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Branch{})
}

// maxParentDepth bounds the parent chain walk so a corrupted chain cannot
// hang a request.
const maxParentDepth = 256

// CreateParams holds the caller-supplied fields for a new branch.
type CreateParams struct {
	ProjectID      string
	Name           string
	Description    string
	ParentBranchID *string
}

// Create inserts a branch. The name must be unique within the project and
// the parent, when given, must belong to the same project.
func (s *Store) Create(actor string, p CreateParams) (*models.Branch, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, errs.Validation.New("branch name is required")
	}

	branch := &models.Branch{
		ID:             uuid.New().String(),
		ProjectID:      p.ProjectID,
		Name:           p.Name,
		Description:    p.Description,
		ParentBranchID: p.ParentBranchID,
		CreatedBy:      actor,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.gate.EnsureActive(tx, p.ProjectID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Branch{}).
			Where("project_id = ? AND name = ?", p.ProjectID, p.Name).
			Count(&count).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if count > 0 {
			return errs.Validation.New("branch %q already exists in project", p.Name)
		}

		if p.ParentBranchID != nil {
			parent, err := branchInProject(tx, *p.ParentBranchID, p.ProjectID)
			if err != nil {
				return err
			}
			if _, err := chainDepth(tx, parent, branch.ID); err != nil {
				return err
			}
		}

		if err := tx.Create(branch).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     branch.TableName(),
			Operation: audit.OpInsert,
			EntityID:  branch.ID,
			Actor:     actor,
			New:       map[string]any{"name": branch.Name, "projectId": branch.ProjectID},
		})
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

// Get returns a branch by ID, or nil if absent.
func (s *Store) Get(id string) (*models.Branch, error) {
	var branch models.Branch
	err := s.db.Where("id = ?", id).First(&branch).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &branch, nil
}

// List returns all branches of a project ordered by name.
func (s *Store) List(projectID string) ([]models.Branch, error) {
	var branches []models.Branch
	err := s.db.Where("project_id = ?", projectID).Order("name").Find(&branches).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return branches, nil
}

// UpdateParams holds the mutable branch fields. Nil means unchanged. A
// non-nil ParentBranchID pointing at an empty string clears the parent.
type UpdateParams struct {
	Name           *string
	Description    *string
	ParentBranchID *string
}

// Update renames, re-describes, or re-parents a branch. Re-parenting walks
// the proposed chain and rejects any cycle.
func (s *Store) Update(actor, id string, p UpdateParams) (*models.Branch, error) {
	var out *models.Branch
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var branch models.Branch
		if err := tx.Where("id = ?", id).First(&branch).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("branch %s not found", id)
			}
			return errs.Internal.Wrap(err)
		}
		if err := s.gate.EnsureActive(tx, branch.ProjectID); err != nil {
			return err
		}

		old := map[string]any{"name": branch.Name}
		if p.Name != nil {
			name := strings.TrimSpace(*p.Name)
			if name == "" {
				return errs.Validation.New("branch name cannot be empty")
			}
			if name != branch.Name {
				var count int64
				if err := tx.Model(&models.Branch{}).
					Where("project_id = ? AND name = ? AND id <> ?", branch.ProjectID, name, id).
					Count(&count).Error; err != nil {
					return errs.Internal.Wrap(err)
				}
				if count > 0 {
					return errs.Validation.New("branch %q already exists in project", name)
				}
			}
			branch.Name = name
		}
		if p.Description != nil {
			branch.Description = *p.Description
		}
		if p.ParentBranchID != nil {
			if *p.ParentBranchID == "" {
				branch.ParentBranchID = nil
			} else {
				if *p.ParentBranchID == id {
					return errs.Validation.New("branch cannot be its own parent")
				}
				parent, err := branchInProject(tx, *p.ParentBranchID, branch.ProjectID)
				if err != nil {
					return err
				}
				if _, err := chainDepth(tx, parent, id); err != nil {
					return err
				}
				branch.ParentBranchID = p.ParentBranchID
			}
		}

		if err := tx.Save(&branch).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = &branch
		return s.recorder.Append(tx, audit.Entry{
			Table:     branch.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  branch.ID,
			Actor:     actor,
			Old:       old,
			New:       map[string]any{"name": branch.Name},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// branchInProject loads a branch and verifies its project.
func branchInProject(tx *gorm.DB, branchID, projectID string) (*models.Branch, error) {
	var branch models.Branch
	if err := tx.Where("id = ?", branchID).First(&branch).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFound.New("branch %s not found", branchID)
		}
		return nil, errs.Internal.Wrap(err)
	}
	if branch.ProjectID != projectID {
		return nil, errs.Integrity.New("branch %s belongs to another project", branchID)
	}
	return &branch, nil
}

// chainDepth walks the parent chain starting from branch and returns its
// depth. Encountering forbiddenID means the proposed link would close a
// cycle.
func chainDepth(tx *gorm.DB, branch *models.Branch, forbiddenID string) (int, error) {
	depth := 0
	current := branch
	for current != nil {
		if current.ID == forbiddenID {
			return 0, errs.Validation.New("parent chain would form a cycle at branch %s", current.ID)
		}
		depth++
		if depth > maxParentDepth {
			return 0, errs.Integrity.New("parent chain exceeds depth limit")
		}
		if current.ParentBranchID == nil {
			break
		}
		var next models.Branch
		if err := tx.Where("id = ?", *current.ParentBranchID).First(&next).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				break
			}
			return 0, errs.Internal.Wrap(err)
		}
		current = &next
	}
	return depth, nil
}
