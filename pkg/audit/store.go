package audit

import (
	"time"

	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// Store provides read access to audit records. There is deliberately no
// update or delete-by-id path; records are append-only.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new audit Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit_records table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.AuditRecord{})
}

// ListFilter defines filters for listing audit records.
type ListFilter struct {
	Table    string
	Actor    string
	EntityID string
}

// Get retrieves one record by ID. Returns nil, nil if it does not exist.
func (s *Store) Get(recordID string) (*models.AuditRecord, error) {
	var record models.AuditRecord
	err := s.db.First(&record, "id = ?", recordID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &record, nil
}

// List returns paginated audit records, newest first. pageToken is the
// RFC3339Nano created_at of the last record from the previous page.
func (s *Store) List(filter ListFilter, pageSize int, pageToken string) ([]models.AuditRecord, string, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	query := s.db.Model(&models.AuditRecord{}).Order("created_at DESC").Limit(pageSize + 1)
	if filter.Table != "" {
		query = query.Where("table_name = ?", filter.Table)
	}
	if filter.Actor != "" {
		query = query.Where("actor = ?", filter.Actor)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", errs.Validation.New("invalid page token")
		}
		query = query.Where("created_at < ?", t)
	}

	var records []models.AuditRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", errs.Internal.Wrap(err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, nil
}

// DeleteOlderThan removes records past the retention horizon. Retention is
// an operator policy, not a caller-visible mutation path.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Exec("DELETE FROM audit_records WHERE created_at < ?", cutoff)
	if result.Error != nil {
		return 0, errs.Internal.Wrap(result.Error)
	}
	return result.RowsAffected, nil
}
