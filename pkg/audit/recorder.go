// Package audit appends immutable change records for every tracked
// mutation. The original system wrote these rows from database triggers;
// here every mutating service calls Recorder.Append inside the same
// transaction as its primary effect, so an audit row exists exactly when
// the mutation committed.
package audit

import (
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// Operations recorded per mutation.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Entry describes one mutation to be recorded.
type Entry struct {
	Table     string
	Operation string
	EntityID  string
	Actor     string
	Old       map[string]any
	New       map[string]any
}

// Recorder appends audit records. The zero value is not usable; construct
// with NewRecorder.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Append writes one audit record using tx, so the record commits or rolls
// back together with the mutation it describes.
func (r *Recorder) Append(tx *gorm.DB, e Entry) error {
	if e.Table == "" || e.Operation == "" || e.Actor == "" {
		return errs.Validation.New("audit entry requires table, operation, and actor")
	}
	record := &models.AuditRecord{
		ID:        uuid.New().String(),
		Table:     e.Table,
		Operation: e.Operation,
		EntityID:  e.EntityID,
		Actor:     e.Actor,
		OldValue:  models.JSONAny(e.Old),
		NewValue:  models.JSONAny(e.New),
	}
	if err := tx.Create(record).Error; err != nil {
		return errs.Internal.Wrap(err)
	}
	return nil
}
