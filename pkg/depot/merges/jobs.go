package merges

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
)

// jobTransitions is the merge-job state machine. completed and failed are
// terminal.
var jobTransitions = map[models.MergeJobStatus][]models.MergeJobStatus{
	models.JobQueued:  {models.JobRunning, models.JobFailed},
	models.JobRunning: {models.JobStaged, models.JobCompleted, models.JobFailed},
	models.JobStaged:  {models.JobCompleted, models.JobFailed},
}

func jobTransitionAllowed(from, to models.MergeJobStatus) bool {
	for _, t := range jobTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// EnqueueJob adds a pipeline step to a live merge.
func (s *Store) EnqueueJob(actor, mergeID string, jobType models.MergeJobType) (*models.MergeJob, error) {
	if !models.ValidMergeJobType(jobType) {
		return nil, errs.Validation.New("unknown job type %q", jobType)
	}

	var out *models.MergeJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		merge, err := loadMerge(tx, mergeID)
		if err != nil {
			return err
		}
		if merge.Status.Terminal() {
			return errs.StateConflict.New("merge %s is %s", mergeID, merge.Status)
		}

		job := &models.MergeJob{
			ID:            uuid.New().String(),
			BranchMergeID: mergeID,
			JobType:       jobType,
			Status:        models.JobQueued,
		}
		if err := tx.Create(job).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = job
		return s.recorder.Append(tx, audit.Entry{
			Table:     job.TableName(),
			Operation: audit.OpInsert,
			EntityID:  job.ID,
			Actor:     actor,
			New:       map[string]any{"mergeId": mergeID, "jobType": string(jobType)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// JobUpdate describes one job mutation. Nil fields are left alone.
type JobUpdate struct {
	Status           *models.MergeJobStatus
	AppendLog        string
	SubmitGatePassed *bool
	ConflictSnapshot map[string]any
}

// UpdateJob advances a job through its state machine. Moving into running
// stamps started_at; moving into a terminal state stamps completed_at.
// The submit-gate verdict can only be set on submit_gate jobs.
func (s *Store) UpdateJob(actor, jobID string, u JobUpdate) (*models.MergeJob, error) {
	var out *models.MergeJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		job, err := loadJob(tx, jobID)
		if err != nil {
			return err
		}
		// Serialize against a concurrent Complete on the same merge.
		if _, err := loadMerge(tx, job.BranchMergeID); err != nil {
			return err
		}

		if u.SubmitGatePassed != nil && job.JobType != models.JobSubmitGate {
			return errs.Validation.New("submit_gate_passed only applies to submit_gate jobs")
		}

		now := tx.NowFunc()
		if u.Status != nil && *u.Status != job.Status {
			if !models.ValidMergeJobStatus(*u.Status) {
				return errs.Validation.New("unknown job status %q", *u.Status)
			}
			if !jobTransitionAllowed(job.Status, *u.Status) {
				return errs.StateConflict.New("job %s cannot move from %s to %s", jobID, job.Status, *u.Status)
			}
			job.Status = *u.Status
			if *u.Status == models.JobRunning && job.StartedAt == nil {
				job.StartedAt = &now
			}
			if u.Status.Terminal() {
				job.CompletedAt = &now
			}
		}
		if u.AppendLog != "" {
			job.Logs = appendLog(job.Logs, now, u.AppendLog)
		}
		if u.SubmitGatePassed != nil {
			job.SubmitGatePassed = *u.SubmitGatePassed
		}
		if u.ConflictSnapshot != nil {
			job.ConflictSnapshot = models.JSONAny(u.ConflictSnapshot)
		}

		if err := tx.Save(job).Error; err != nil {
			return errs.Internal.Wrap(err)
		}
		out = job
		return s.recorder.Append(tx, audit.Entry{
			Table:     job.TableName(),
			Operation: audit.OpUpdate,
			EntityID:  job.ID,
			Actor:     actor,
			New:       map[string]any{"status": string(job.Status)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob returns a job by ID, or nil if absent.
func (s *Store) GetJob(id string) (*models.MergeJob, error) {
	var job models.MergeJob
	err := s.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &job, nil
}

// ListJobs returns a merge's jobs in creation order.
func (s *Store) ListJobs(mergeID string) ([]models.MergeJob, error) {
	var jobs []models.MergeJob
	err := s.db.Where("branch_merge_id = ?", mergeID).Order("created_at").Find(&jobs).Error
	if err != nil {
		return nil, errs.Internal.Wrap(err)
	}
	return jobs, nil
}

// ClaimJob atomically moves the oldest queued job of a non-terminal merge
// to running and returns it. Returns nil when nothing is queued.
func (s *Store) ClaimJob() (*models.MergeJob, error) {
	var claimed *models.MergeJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var job models.MergeJob
		err := tx.
			Joins("JOIN branch_merges ON branch_merges.id = merge_jobs.branch_merge_id").
			Where("merge_jobs.status = ? AND branch_merges.status NOT IN ?",
				models.JobQueued,
				[]models.MergeStatus{models.MergeMerged, models.MergeCancelled}).
			Order("merge_jobs.created_at").
			First(&job).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return errs.Internal.Wrap(err)
		}

		now := tx.NowFunc()
		result := tx.Model(&models.MergeJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobQueued).
			Updates(map[string]any{"status": models.JobRunning, "started_at": now})
		if result.Error != nil {
			return errs.Internal.Wrap(result.Error)
		}
		if result.RowsAffected == 0 {
			return nil // Another worker got there first.
		}
		job.Status = models.JobRunning
		job.StartedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func appendLog(logs string, at time.Time, line string) string {
	entry := at.UTC().Format(time.RFC3339) + " " + line
	if logs == "" {
		return entry
	}
	return logs + "\n" + entry
}

func loadJob(tx *gorm.DB, id string) (*models.MergeJob, error) {
	var job models.MergeJob
	if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NotFound.New("merge job %s not found", id)
		}
		return nil, errs.Internal.Wrap(err)
	}
	return &job, nil
}
