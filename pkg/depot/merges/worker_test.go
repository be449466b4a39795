package merges

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetdepot/depot/pkg/depot/models"
)

func newTestPool(store *Store) *WorkerPool {
	return NewWorkerPool(store, DefaultWorkerConfig(), slog.Default())
}

func TestWorkerFinalizesCleanMerge(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{WithSubmitGate: true})
	pool := newTestPool(f.store)

	// auto_integrate then submit_gate.
	require.True(t, pool.ProcessOne(0))
	require.True(t, pool.ProcessOne(0))
	assert.False(t, pool.ProcessOne(0))

	got, err := f.store.Get(merge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeMerged, got.Status)
	require.NotNil(t, got.CompletedAt)

	jobs, err := f.store.ListJobs(merge.ID)
	require.NoError(t, err)
	for _, job := range jobs {
		assert.Equal(t, models.JobCompleted, job.Status)
		require.NotNil(t, job.StartedAt)
		require.NotNil(t, job.CompletedAt)
		assert.NotEmpty(t, job.Logs)
		if job.JobType == models.JobSubmitGate {
			assert.True(t, job.SubmitGatePassed)
		}
	}
}

func TestWorkerFlipsConflictedMerge(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})
	_, err := f.store.RecordConflict("lead", merge.ID, ConflictParams{Description: "geo clash"})
	require.NoError(t, err)

	pool := newTestPool(f.store)
	require.True(t, pool.ProcessOne(0))

	got, err := f.store.Get(merge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeConflicted, got.Status)

	jobs, err := f.store.ListJobs(merge.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Logs, "unresolved conflicts")
}

func TestWorkerStagesConflictSet(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{WithConflictStaging: true})
	pool := newTestPool(f.store)

	require.True(t, pool.ProcessOne(0)) // auto_integrate
	require.True(t, pool.ProcessOne(0)) // conflict_staging

	got, err := f.store.Get(merge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeMerged, got.Status)

	jobs, err := f.store.ListJobs(merge.ID)
	require.NoError(t, err)
	for _, job := range jobs {
		if job.JobType == models.JobConflictStaging {
			assert.Equal(t, models.JobCompleted, job.Status)
			assert.Contains(t, job.Logs, "staged")
		}
	}
}

func TestWorkerSkipsJobsOfCancelledMerge(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})
	_, err := f.store.Cancel("lead", merge.ID)
	require.NoError(t, err)

	pool := newTestPool(f.store)
	assert.False(t, pool.ProcessOne(0))
}
