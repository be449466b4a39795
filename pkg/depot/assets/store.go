// Package assets manages logical assets and their immutable numbered
// versions. Version numbers come from a persistent per-asset counter, so a
// deleted version's number is never handed out again.
package assets

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// Store persists assets and asset versions.
type Store struct {
	db       *gorm.DB
	gate     authz.ProjectGate
	recorder *audit.Recorder
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, gate authz.ProjectGate, recorder *audit.Recorder) *Store {
	return &Store{db: db, gate: gate, recorder: recorder}
}

// AutoMigrate migrates the asset tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Asset{}, &models.AssetVersion{})
}

// CreateParams holds the caller-supplied fields for a new asset.
type CreateParams struct {
	ProjectID string
	Name      string
	Type      string
	Metadata  map[string]any
}

// Create inserts a new asset with no versions.
func (s *Store) Create(actor string, p CreateParams) (*models.Asset, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, errs.Validation.New("asset name is required")
	}

	asset := &models.Asset{
		ID:        uuid.New().String(),
		ProjectID: p.ProjectID,
		Name:      p.Name,
		Type:      p.Type,
		Metadata:  models.JSONAny(p.Metadata),
		CreatedBy: actor,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.gate.EnsureActive(tx, p.ProjectID); err != nil {
			return err
		}
		if err := tx.Create(asset).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     asset.TableName(),
			Operation: audit.OpInsert,
			EntityID:  asset.ID,
			Actor:     actor,
			New:       map[string]any{"name": asset.Name, "projectId": asset.ProjectID},
		})
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// Get returns an asset by ID, or nil if absent.
func (s *Store) Get(id string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.Where("id = ?", id).First(&asset).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &asset, nil
}

// List returns all assets of a project ordered by name.
func (s *Store) List(projectID string) ([]models.Asset, error) {
	var assets []models.Asset
	err := s.db.Where("project_id = ?", projectID).Order("name").Find(&assets).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return assets, nil
}

// UpdateParams holds the mutable asset fields. Nil means unchanged.
type UpdateParams struct {
	Name     *string
	Type     *string
	Metadata map[string]any
}

// Update modifies an asset's descriptive fields.
func (s *Store) Update(actor, id string, p UpdateParams) (*models.Asset, error) {
	var out *models.Asset
	err := s.db.Transaction(func(tx *gorm.DB) error {
		asset, err := lockAsset(tx, id)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, asset.ProjectID); err != nil {
			return err
		}

		old := map[string]any{"name": asset.Name, "type": asset.Type}
		if p.Name != nil {
			name := strings.TrimSpace(*p.Name)
			if name == "" {
				return errs.Validation.New("asset name cannot be empty")
			}
			asset.Name = name
		}
		if p.Type != nil {
			asset.Type = *p.Type
		}
		if p.Metadata != nil {
			asset.Metadata = models.JSONAny(p.Metadata)
		}

		if err := tx.Save(asset).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = asset
		return s.recorder.Append(tx, audit.Entry{
			Table:     asset.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  asset.ID,
			Actor:     actor,
			Old:       old,
			New:       map[string]any{"name": asset.Name, "type": asset.Type},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VersionParams holds the caller-supplied fields for a new version.
// VersionNumber zero means auto-assign; a non-zero value must equal the
// next number in sequence.
type VersionParams struct {
	VersionNumber int
	BranchID      *string
	FilePath      string
	Notes         string
}

// CreateVersion mints the next version of an asset. The asset row is
// locked for the duration so concurrent calls serialize on the counter.
func (s *Store) CreateVersion(actor, assetID string, p VersionParams) (*models.AssetVersion, error) {
	var out *models.AssetVersion
	err := s.db.Transaction(func(tx *gorm.DB) error {
		asset, err := lockAsset(tx, assetID)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, asset.ProjectID); err != nil {
			return err
		}

		if p.BranchID != nil {
			var branch models.Branch
			if err := tx.Where("id = ?", *p.BranchID).First(&branch).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return errs.NotFound.New("branch %s not found", *p.BranchID)
				}
				return errs.Internal.Wrap(err)
			}
			if branch.ProjectID != asset.ProjectID {
				return errs.Integrity.New("branch %s belongs to another project", *p.BranchID)
			}
		}

		next := asset.LatestVersion + 1
		if p.VersionNumber != 0 && p.VersionNumber != next {
			return errs.Validation.New("version number %d is not the next in sequence (%d)", p.VersionNumber, next)
		}
		version := &models.AssetVersion{
			ID:            uuid.New().String(),
			AssetID:       asset.ID,
			VersionNumber: next,
			BranchID:      p.BranchID,
			FilePath:      p.FilePath,
			Notes:         p.Notes,
			CreatedBy:     actor,
		}
		if err := tx.Create(version).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if err := tx.Model(asset).Update("latest_version", next).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		out = version
		return s.recorder.Append(tx, audit.Entry{
			Table:     version.TableName(),
			Operation: audit.OpInsert,
			EntityID:  version.ID,
			Actor:     actor,
			New:       map[string]any{"assetId": asset.ID, "versionNumber": next},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetVersion returns a version by ID, or nil if absent.
func (s *Store) GetVersion(id string) (*models.AssetVersion, error) {
	var version models.AssetVersion
	err := s.db.Where("id = ?", id).First(&version).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &version, nil
}

// ListVersions returns an asset's versions, newest first.
func (s *Store) ListVersions(assetID string) ([]models.AssetVersion, error) {
	var versions []models.AssetVersion
	err := s.db.Where("asset_id = ?", assetID).Order("version_number DESC").Find(&versions).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return versions, nil
}

// DeleteVersion removes a version row. The asset's counter is not wound
// back, so the deleted number is retired permanently. Versions referenced
// by changelist items cannot be deleted.
func (s *Store) DeleteVersion(actor, id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var version models.AssetVersion
		if err := tx.Where("id = ?", id).First(&version).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NotFound.New("asset version %s not found", id)
			}
			return errs.Internal.Wrap(err)
		}

		asset, err := lockAsset(tx, version.AssetID)
		if err != nil {
			return err
		}
		if err := s.gate.EnsureActive(tx, asset.ProjectID); err != nil {
			return err
		}

		var refs int64
		if err := tx.Model(&models.ChangelistItem{}).
			Where("asset_version_id = ?", id).Count(&refs).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		if refs > 0 {
			return errs.StateConflict.New("version %s is referenced by changelist items", id)
		}

		if err := tx.Delete(&version).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		return s.recorder.Append(tx, audit.Entry{
			Table:     version.TableName(),
			Operation: audit.OpDelete,
			EntityID:  version.ID,
			Actor:     actor,
			Old:       map[string]any{"assetId": version.AssetID, "versionNumber": version.VersionNumber},
		})
	})
}

// lockAsset loads an asset row with an update lock inside tx. SQLite has
// no row locks; its single-writer transactions serialize the counter.
func lockAsset(tx *gorm.DB, id string) (*models.Asset, error) {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var asset models.Asset
	err := q.Where("id = ?", id).First(&asset).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFound.New("asset %s not found", id)
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &asset, nil
}
