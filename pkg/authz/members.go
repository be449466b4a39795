package authz

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// ProjectGate verifies that a project exists and still accepts writes.
// Implemented by the projects store; an interface here keeps membership
// management from importing it directly.
type ProjectGate interface {
	EnsureActive(tx *gorm.DB, projectID string) error
}

// MemberStore manages project memberships.
type MemberStore struct {
	db       *gorm.DB
	gate     ProjectGate
	recorder *audit.Recorder
}

// NewMemberStore creates a MemberStore.
func NewMemberStore(db *gorm.DB, gate ProjectGate, recorder *audit.Recorder) *MemberStore {
	return &MemberStore{db: db, gate: gate, recorder: recorder}
}

// AutoMigrate migrates the membership table.
func (s *MemberStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.ProjectMember{})
}

// List returns all memberships of a project.
func (s *MemberStore) List(projectID string) ([]models.ProjectMember, error) {
	var members []models.ProjectMember
	err := s.db.Where("project_id = ?", projectID).Order("created_at").Find(&members).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return members, nil
}

// Get returns one membership, or nil if absent.
func (s *MemberStore) Get(projectID, userID string) (*models.ProjectMember, error) {
	var member models.ProjectMember
	err := s.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &member, nil
}

// Add grants a role to a user on a project. Granting to an existing member
// changes their role in place.
func (s *MemberStore) Add(actor, projectID, userID string, role models.Role) (*models.ProjectMember, error) {
	if !models.ValidRole(role) {
		return nil, errs.Validation.New("unknown role %q", role)
	}

	var out *models.ProjectMember
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.gate.EnsureActive(tx, projectID); err != nil {
			return err
		}

		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("user %s not found", userID)
			}
			return errs.Internal.Wrap(err)
		}

		var existing models.ProjectMember
		err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).First(&existing).Error
		switch {
		case err == nil:
			old := map[string]any{"role": string(existing.Role)}
			existing.Role = role
			if err := tx.Model(&existing).Update("role", role).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
			out = &existing
			return s.recorder.Append(tx, audit.Entry{
				Table:     models.ProjectMember{}.TableName(),
				Operation: audit.OpUpdate,
				EntityID:  existing.ID,
				Actor:     actor,
				Old:       old,
				New:       map[string]any{"role": string(role)},
			})
		case err == gorm.ErrRecordNotFound:
			member := &models.ProjectMember{
				ID:        uuid.New().String(),
				ProjectID: projectID,
				UserID:    userID,
				Role:      role,
				AddedBy:   actor,
			}
			if err := tx.Create(member).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
			out = member
			return s.recorder.Append(tx, audit.Entry{
				Table:     models.ProjectMember{}.TableName(),
				Operation: audit.OpInsert,
				EntityID:  member.ID,
				Actor:     actor,
				New:       map[string]any{"userId": userID, "role": string(role)},
			})
		default:
			return errs.Internal.Wrap(err)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove revokes a membership. Removing the last owner is rejected so a
// project is never left unmanageable.
func (s *MemberStore) Remove(actor, projectID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.gate.EnsureActive(tx, projectID); err != nil {
			return err
		}

		var member models.ProjectMember
		err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("membership not found")
			}
			return errs.Internal.Wrap(err)
		}

		if member.Role == models.RoleOwner {
			var owners int64
			if err := tx.Model(&models.ProjectMember{}).
				Where("project_id = ? AND role = ?", projectID, models.RoleOwner).
				Count(&owners).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
			if owners <= 1 {
				return errs.StateConflict.New("cannot remove the last owner of project %s", projectID)
			}
		}

		if err := tx.Delete(&member).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     models.ProjectMember{}.TableName(),
			Operation: audit.OpDelete,
			EntityID:  member.ID,
			Actor:     actor,
			Old:       map[string]any{"userId": userID, "role": string(member.Role)},
		})
	})
}
