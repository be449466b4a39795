// Package projects manages the lifecycle of studio projects, from planning
// through one-way archival. Archival freezes every dependent entity; the
// other depot stores call EnsureActive before any write.
package projects

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// Store persists projects and their archive records.
type Store struct {
	db       *gorm.DB
	recorder *audit.Recorder
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, recorder *audit.Recorder) *Store {
	return &Store{db: db, recorder: recorder}
}

// AutoMigrate migrates the project tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Project{}, &models.ProjectArchiveRecord{})
}

// CreateParams holds the caller-supplied fields for a new project.
type CreateParams struct {
	Name            string
	Code            string
	Description     string
	Status          models.ProjectStatus
	StorageQuotaTB  float64
	StorageProvider string
	StorageLocation string
}

// Create inserts a new project and grants the creator the owner role.
func (s *Store) Create(actor string, p CreateParams) (*models.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Code = strings.TrimSpace(p.Code)
	if p.Name == "" || p.Code == "" {
		return nil, errs.Validation.New("project name and code are required")
	}
	if p.Status == "" {
		p.Status = models.ProjectPlanning
	}
	if !models.ValidProjectStatus(p.Status) || p.Status == models.ProjectArchived {
		return nil, errs.Validation.New("invalid initial status %q", p.Status)
	}
	if p.StorageQuotaTB == 0 {
		p.StorageQuotaTB = 10
	}
	if p.StorageQuotaTB < 0 {
		return nil, errs.Validation.New("storage quota must be positive")
	}

	project := &models.Project{
		ID:              uuid.New().String(),
		Name:            p.Name,
		Code:            p.Code,
		Description:     p.Description,
		Status:          p.Status,
		StorageQuotaTB:  p.StorageQuotaTB,
		StorageProvider: p.StorageProvider,
		StorageLocation: p.StorageLocation,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Project{}).Where("code = ?", p.Code).Count(&count).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if count > 0 {
			return errs.Validation.New("project code %q is already in use", p.Code)
		}
		if err := tx.Create(project).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		owner := &models.ProjectMember{
			ID:        uuid.New().String(),
			ProjectID: project.ID,
			UserID:    actor,
			Role:      models.RoleOwner,
			AddedBy:   actor,
		}
		if err := tx.Create(owner).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		return s.recorder.Append(tx, audit.Entry{
			Table:     project.TableName(),
			Operation: audit.OpInsert,
			EntityID:  project.ID,
			Actor:     actor,
			New:       map[string]any{"name": project.Name, "code": project.Code, "status": string(project.Status)},
		})
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Get returns a project by ID, or nil if absent.
func (s *Store) Get(id string) (*models.Project, error) {
	var project models.Project
	err := s.db.Where("id = ?", id).First(&project).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &project, nil
}

// List returns projects, newest first. Archived projects are excluded
// unless includeArchived is set.
func (s *Store) List(includeArchived bool) ([]models.Project, error) {
	query := s.db.Order("created_at DESC")
	if !includeArchived {
		query = query.Where("status <> ?", models.ProjectArchived)
	}
	var projects []models.Project
	if err := query.Find(&projects).Error; err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return projects, nil
}

// UpdateParams holds the mutable project fields. Nil means unchanged.
type UpdateParams struct {
	Name            *string
	Description     *string
	Status          *models.ProjectStatus
	StorageQuotaTB  *float64
	StorageProvider *string
	StorageLocation *string
}

// Update modifies a non-archived project. Transitioning to archived goes
// through Archive, never through Update.
func (s *Store) Update(actor, id string, p UpdateParams) (*models.Project, error) {
	var out *models.Project
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", id).First(&project).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("project %s not found", id)
			}
			return errs.Internal.Wrap(err)
		}
		if project.Archived() {
			return errs.StateConflict.New("project %s is archived", id)
		}

		old := map[string]any{"name": project.Name, "status": string(project.Status)}
		if p.Name != nil {
			name := strings.TrimSpace(*p.Name)
			if name == "" {
				return errs.Validation.New("project name cannot be empty")
			}
			project.Name = name
		}
		if p.Description != nil {
			project.Description = *p.Description
		}
		if p.Status != nil {
			if !models.ValidProjectStatus(*p.Status) {
				return errs.Validation.New("invalid status %q", *p.Status)
			}
			if *p.Status == models.ProjectArchived {
				return errs.Validation.New("archiving requires the archive operation")
			}
			project.Status = *p.Status
		}
		if p.StorageQuotaTB != nil {
			if *p.StorageQuotaTB <= 0 {
				return errs.Validation.New("storage quota must be positive")
			}
			project.StorageQuotaTB = *p.StorageQuotaTB
		}
		if p.StorageProvider != nil {
			project.StorageProvider = *p.StorageProvider
		}
		if p.StorageLocation != nil {
			project.StorageLocation = *p.StorageLocation
		}

		if err := tx.Save(&project).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = &project
		return s.recorder.Append(tx, audit.Entry{
			Table:     project.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  project.ID,
			Actor:     actor,
			Old:       old,
			New:       map[string]any{"name": project.Name, "status": string(project.Status)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Archive performs the one-way transition to archived and captures the
// archive record in the same transaction. Archiving twice is rejected.
func (s *Store) Archive(actor, id string) (*models.Project, error) {
	var out *models.Project
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", id).First(&project).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("project %s not found", id)
			}
			return errs.Internal.Wrap(err)
		}
		if project.Archived() {
			return errs.StateConflict.New("project %s is already archived", id)
		}

		oldStatus := project.Status
		now := tx.NowFunc()
		project.Status = models.ProjectArchived
		project.ArchivedAt = &now
		project.ArchivedBy = actor
		if err := tx.Save(&project).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		var assetCount, versionCount, memberCount int64
		if err := tx.Model(&models.Asset{}).Where("project_id = ?", id).Count(&assetCount).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if err := tx.Model(&models.AssetVersion{}).
			Where("asset_id IN (?)", tx.Model(&models.Asset{}).Select("id").Where("project_id = ?", id)).
			Count(&versionCount).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if err := tx.Model(&models.ProjectMember{}).Where("project_id = ?", id).Count(&memberCount).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		record := &models.ProjectArchiveRecord{
			ID:              uuid.New().String(),
			ProjectID:       project.ID,
			AssetCount:      assetCount,
			VersionCount:    versionCount,
			MemberCount:     memberCount,
			StorageQuotaTB:  project.StorageQuotaTB,
			StorageLocation: project.StorageLocation,
			ArchivedBy:      actor,
		}
		if err := tx.Create(record).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		out = &project
		return s.recorder.Append(tx, audit.Entry{
			Table:     project.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  project.ID,
			Actor:     actor,
			Old:       map[string]any{"status": string(oldStatus)},
			New:       map[string]any{"status": string(models.ProjectArchived), "archiveRecordId": record.ID},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ArchiveRecord returns the archive record of a project, or nil if the
// project was never archived.
func (s *Store) ArchiveRecord(projectID string) (*models.ProjectArchiveRecord, error) {
	var record models.ProjectArchiveRecord
	err := s.db.Where("project_id = ?", projectID).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &record, nil
}

// EnsureActive verifies inside tx that the project exists and is not
// archived. Every depot store calls this before writing project-scoped
// rows.
func (s *Store) EnsureActive(tx *gorm.DB, projectID string) error {
	var project models.Project
	if err := tx.Where("id = ?", projectID).First(&project).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errs.NotFound.New("project %s not found", projectID)
		}
		return errs.Internal.Wrap(err)
	}
	if project.Archived() {
		return errs.StateConflict.New("project %s is archived", projectID)
	}
	return nil
}
