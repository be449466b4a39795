// Package merges orchestrates branch integrations: each merge owns a set
// of per-asset conflicts and a pipeline of jobs, and can only land once
// the submit gate clears.
package merges

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// mergeTransitions is the merge state machine. Anything not listed is
// rejected. merged and cancelled are terminal.
var mergeTransitions = map[models.MergeStatus][]models.MergeStatus{
	models.MergePending:    {models.MergeMerged, models.MergeConflicted, models.MergeCancelled},
	models.MergeConflicted: {models.MergePending, models.MergeCancelled},
}

func transitionAllowed(from, to models.MergeStatus) bool {
	for _, t := range mergeTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Store persists merges, conflicts, and merge jobs.
type Store struct {
	db       *gorm.DB
	gate     authz.ProjectGate
	recorder *audit.Recorder
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, gate authz.ProjectGate, recorder *audit.Recorder) *Store {
	return &Store{db: db, gate: gate, recorder: recorder}
}

// AutoMigrate migrates the merge tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.BranchMerge{}, &models.MergeConflict{}, &models.MergeJob{})
}

// CreateParams holds the caller-supplied fields for a new merge. The flags
// pick which pipeline jobs get seeded alongside the mandatory
// auto-integrate step.
type CreateParams struct {
	ProjectID           string
	SourceBranchID      string
	TargetBranchID      string
	Notes               string
	WithConflictStaging bool
	WithSubmitGate      bool
}

// Create opens a pending merge and seeds its job pipeline.
func (s *Store) Create(actor string, p CreateParams) (*models.BranchMerge, error) {
	if p.SourceBranchID == p.TargetBranchID {
		return nil, errs.Validation.New("source and target branch must differ")
	}

	merge := &models.BranchMerge{
		ID:             uuid.New().String(),
		ProjectID:      p.ProjectID,
		SourceBranchID: p.SourceBranchID,
		TargetBranchID: p.TargetBranchID,
		InitiatedBy:    actor,
		Status:         models.MergePending,
		Notes:          p.Notes,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.gate.EnsureActive(tx, p.ProjectID); err != nil {
			return err
		}
		for _, branchID := range []string{p.SourceBranchID, p.TargetBranchID} {
			var branch models.Branch
			if err := tx.Where("id = ?", branchID).First(&branch).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return errs.NotFound.New("branch %s not found", branchID)
				}
				return errs.Internal.Wrap(err)
			}
			if branch.ProjectID != p.ProjectID {
				return errs.Integrity.New("branch %s belongs to another project", branchID)
			}
		}

		if err := tx.Create(merge).Error; err != nil {
			return errs.Internal.Wrap(err)
		}

		jobs := []*models.MergeJob{{
			ID:            uuid.New().String(),
			BranchMergeID: merge.ID,
			JobType:       models.JobAutoIntegrate,
			Status:        models.JobQueued,
		}}
		if p.WithConflictStaging {
			jobs = append(jobs, &models.MergeJob{
				ID:            uuid.New().String(),
				BranchMergeID: merge.ID,
				JobType:       models.JobConflictStaging,
				Status:        models.JobQueued,
			})
		}
		if p.WithSubmitGate {
			jobs = append(jobs, &models.MergeJob{
				ID:            uuid.New().String(),
				BranchMergeID: merge.ID,
				JobType:       models.JobSubmitGate,
				Status:        models.JobQueued,
			})
		}
		for _, job := range jobs {
			if err := tx.Create(job).Error; err != nil {
				return errs.Internal.Wrap(err)
			}
		}

		return s.recorder.Append(tx, audit.Entry{
			Table:     merge.TableName(),
			Operation: audit.OpInsert,
			EntityID:  merge.ID,
			Actor:     actor,
			New: map[string]any{
				"sourceBranchId": p.SourceBranchID,
				"targetBranchId": p.TargetBranchID,
				"jobs":           len(jobs),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return merge, nil
}

// Get returns a merge by ID, or nil if absent.
func (s *Store) Get(id string) (*models.BranchMerge, error) {
	var merge models.BranchMerge
	err := s.db.Where("id = ?", id).First(&merge).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &merge, nil
}

// List returns the merges of a project, optionally filtered by status,
// newest first.
func (s *Store) List(projectID string, status models.MergeStatus) ([]models.BranchMerge, error) {
	query := s.db.Where("project_id = ?", projectID).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var merges []models.BranchMerge
	if err := query.Find(&merges).Error; err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return merges, nil
}

// MarkConflicted flips a pending merge to conflicted and records the
// summary the integration step produced.
func (s *Store) MarkConflicted(actor, id string, summary map[string]any) (*models.BranchMerge, error) {
	var out *models.BranchMerge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		merge, err := loadMerge(tx, id)
		if err != nil {
			return err
		}
		if !transitionAllowed(merge.Status, models.MergeConflicted) {
			return errs.StateConflict.New("merge %s cannot move from %s to conflicted", id, merge.Status)
		}

		old := merge.Status
		merge.Status = models.MergeConflicted
		if summary != nil {
			merge.ConflictSummary = models.JSONAny(summary)
		}
		if err := tx.Save(merge).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = merge
		return s.recorder.Append(tx, audit.Entry{
			Table:     merge.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  merge.ID,
			Actor:     actor,
			Old:       map[string]any{"status": string(old)},
			New:       map[string]any{"status": string(models.MergeConflicted)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel abandons a pending or conflicted merge.
func (s *Store) Cancel(actor, id string) (*models.BranchMerge, error) {
	var out *models.BranchMerge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		merge, err := loadMerge(tx, id)
		if err != nil {
			return err
		}
		if !transitionAllowed(merge.Status, models.MergeCancelled) {
			return errs.StateConflict.New("merge %s cannot move from %s to cancelled", id, merge.Status)
		}

		old := merge.Status
		merge.Status = models.MergeCancelled
		if err := tx.Save(merge).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = merge
		return s.recorder.Append(tx, audit.Entry{
			Table:     merge.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  merge.ID,
			Actor:     actor,
			Old:       map[string]any{"status": string(old)},
			New:       map[string]any{"status": string(models.MergeCancelled)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reopen returns a conflicted merge to pending. Every conflict must be
// resolved first.
func (s *Store) Reopen(actor, id string) (*models.BranchMerge, error) {
	var out *models.BranchMerge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		merge, err := loadMerge(tx, id)
		if err != nil {
			return err
		}
		if merge.Status != models.MergeConflicted {
			return errs.StateConflict.New("merge %s is %s, only conflicted merges reopen", id, merge.Status)
		}

		unresolved, err := countUnresolved(tx, id)
		if err != nil {
			return err
		}
		if unresolved > 0 {
			return errs.StateConflict.New("merge %s has %d unresolved conflicts", id, unresolved)
		}

		merge.Status = models.MergePending
		if err := tx.Save(merge).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = merge
		return s.recorder.Append(tx, audit.Entry{
			Table:     merge.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  merge.ID,
			Actor:     actor,
			Old:       map[string]any{"status": string(models.MergeConflicted)},
			New:       map[string]any{"status": string(models.MergePending)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete lands a pending merge. The whole gate is re-checked inside one
// transaction: no unresolved conflicts, every submit-gate job completed
// and passed, and no jobs still in flight.
func (s *Store) Complete(actor, id string) (*models.BranchMerge, error) {
	var out *models.BranchMerge
	err := s.db.Transaction(func(tx *gorm.DB) error {
		merge, err := loadMerge(tx, id)
		if err != nil {
			return err
		}
		if merge.Status.Terminal() {
			return errs.StateConflict.New("merge %s is already %s", id, merge.Status)
		}
		if merge.Status != models.MergePending {
			return errs.StateConflict.New("merge %s is %s, resolve and reopen it first", id, merge.Status)
		}

		if err := checkGate(tx, id); err != nil {
			return err
		}

		now := tx.NowFunc()
		merge.Status = models.MergeMerged
		merge.CompletedAt = &now
		if err := tx.Save(merge).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = merge
		return s.recorder.Append(tx, audit.Entry{
			Table:     merge.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  merge.ID,
			Actor:     actor,
			Old:       map[string]any{"status": string(models.MergePending)},
			New:       map[string]any{"status": string(models.MergeMerged)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkGate is the submit gate. It runs inside the caller's transaction.
func checkGate(tx *gorm.DB, mergeID string) error {
	unresolved, err := countUnresolved(tx, mergeID)
	if err != nil {
		return err
	}
	if unresolved > 0 {
		return errs.StateConflict.New("merge not ready: %d unresolved conflicts", unresolved)
	}

	var gates []models.MergeJob
	if err := tx.Where("branch_merge_id = ? AND job_type = ?", mergeID, models.JobSubmitGate).
		Find(&gates).Error; err != nil {
		return errs.Internal.Wrap(err)
	}
	for _, gate := range gates {
		if gate.Status != models.JobCompleted || !gate.SubmitGatePassed {
			return errs.StateConflict.New("merge not ready: submit gate %s has not passed", gate.ID)
		}
	}

	var inFlight int64
	if err := tx.Model(&models.MergeJob{}).
		Where("branch_merge_id = ? AND status IN ?", mergeID,
			[]models.MergeJobStatus{models.JobQueued, models.JobRunning, models.JobStaged}).
		Count(&inFlight).Error; err != nil {
		return errs.Internal.Wrap(err)
	}
	if inFlight > 0 {
		return errs.StateConflict.New("merge not ready: %d jobs still in flight", inFlight)
	}
	return nil
}

func countUnresolved(tx *gorm.DB, mergeID string) (int64, error) {
	var count int64
	err := tx.Model(&models.MergeConflict{}).
		Where("branch_merge_id = ? AND resolved_at IS NULL", mergeID).
		Count(&count).Error
	if err != nil {
		return 0, errs.Internal.Wrap(err)
	}
	return count, nil
}

// loadMerge loads a merge row with an update lock inside tx, serializing
// the submit-gate check against concurrent conflict and job writes. SQLite
// has no row locks; its single-writer transactions serialize instead.
func loadMerge(tx *gorm.DB, id string) (*models.BranchMerge, error) {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var merge models.BranchMerge
	if err := q.Where("id = ?", id).First(&merge).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFound.New("merge %s not found", id)
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &merge, nil
}
