package models

import (
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/depot/errs"
)

// Audit records are append-only.

// BeforeUpdate rejects any update to an audit record.
func (AuditRecord) BeforeUpdate(*gorm.DB) error {
	return errs.StateConflict.New("audit records are immutable")
}

// BeforeDelete rejects row-level deletes of audit records. Retention
// sweeps bypass hooks by deleting with a raw batch statement.
func (AuditRecord) BeforeDelete(*gorm.DB) error {
	return errs.StateConflict.New("audit records are immutable")
}

// BeforeUpdate rejects any update to an archive record.
func (ProjectArchiveRecord) BeforeUpdate(*gorm.DB) error {
	return errs.StateConflict.New("project archive records are immutable")
}

// BeforeDelete rejects deletes of archive records.
func (ProjectArchiveRecord) BeforeDelete(*gorm.DB) error {
	return errs.StateConflict.New("project archive records are immutable")
}
