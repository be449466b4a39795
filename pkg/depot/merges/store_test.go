package merges

import (
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/depot/projects"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Project{}, &models.ProjectArchiveRecord{}, &models.ProjectMember{},
		&models.Branch{}, &models.Asset{}, &models.AssetVersion{}, &models.BranchMerge{},
		&models.MergeConflict{}, &models.MergeJob{}, &models.AuditRecord{},
	))
	return db
}

type fixture struct {
	db      *gorm.DB
	store   *Store
	project string
	source  string
	target  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	recorder := audit.NewRecorder(slog.Default())
	projectStore := projects.NewStore(db, recorder)
	project, err := projectStore.Create("lead", projects.CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Branch{
		ID: "br-feature", ProjectID: project.ID, Name: "feature",
	}).Error)
	require.NoError(t, db.Create(&models.Branch{
		ID: "br-main", ProjectID: project.ID, Name: "main",
	}).Error)
	return &fixture{
		db:      db,
		store:   NewStore(db, projectStore, recorder),
		project: project.ID,
		source:  "br-feature",
		target:  "br-main",
	}
}

func (f *fixture) newMerge(t *testing.T, p CreateParams) *models.BranchMerge {
	t.Helper()
	p.ProjectID = f.project
	if p.SourceBranchID == "" {
		p.SourceBranchID = f.source
	}
	if p.TargetBranchID == "" {
		p.TargetBranchID = f.target
	}
	merge, err := f.store.Create("lead", p)
	require.NoError(t, err)
	return merge
}

func TestCreateSeedsPipeline(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{WithConflictStaging: true, WithSubmitGate: true})

	jobs, err := f.store.ListJobs(merge.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	types := map[models.MergeJobType]bool{}
	for _, job := range jobs {
		types[job.JobType] = true
		assert.Equal(t, models.JobQueued, job.Status)
	}
	assert.True(t, types[models.JobAutoIntegrate])
	assert.True(t, types[models.JobConflictStaging])
	assert.True(t, types[models.JobSubmitGate])
}

func TestCreateSameBranchRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Create("lead", CreateParams{
		ProjectID: f.project, SourceBranchID: f.source, TargetBranchID: f.source,
	})
	require.Error(t, err)
	assert.True(t, errs.Validation.Has(err))
}

func TestCompleteBlockedByQueuedJobs(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})

	_, err := f.store.Complete("lead", merge.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestCompleteBlockedByUnresolvedConflicts(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})
	drainJobs(t, f.store, merge.ID)

	_, err := f.store.RecordConflict("lead", merge.ID, ConflictParams{Description: "texture clash"})
	require.NoError(t, err)

	_, err = f.store.Complete("lead", merge.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestCompleteBlockedByFailedGate(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{WithSubmitGate: true})
	drainJobsWithGateVerdict(t, f.store, merge.ID, false)

	_, err := f.store.Complete("lead", merge.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestCompleteSucceedsWhenGateClears(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{WithSubmitGate: true})
	drainJobsWithGateVerdict(t, f.store, merge.ID, true)

	done, err := f.store.Complete("lead", merge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeMerged, done.Status)
	require.NotNil(t, done.CompletedAt)

	// merged is terminal.
	_, err = f.store.Complete("lead", merge.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
	_, err = f.store.Cancel("lead", merge.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	// A conflict can no longer land on the merged merge; the merge row
	// lock serializes this against Complete, so the loser always sees
	// the terminal status.
	_, err = f.store.RecordConflict("lead", merge.ID, ConflictParams{Description: "late"})
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestReopenRequiresResolvedConflicts(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})
	drainJobs(t, f.store, merge.ID)

	conflict, err := f.store.RecordConflict("lead", merge.ID, ConflictParams{Description: "rig mismatch"})
	require.NoError(t, err)
	_, err = f.store.MarkConflicted("lead", merge.ID, nil)
	require.NoError(t, err)

	_, err = f.store.Reopen("lead", merge.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	resolved, err := f.store.ResolveConflict("lead", conflict.ID, "kept target rig")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved())

	reopened, err := f.store.Reopen("lead", merge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergePending, reopened.Status)

	done, err := f.store.Complete("lead", merge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeMerged, done.Status)
}

func TestUnresolveReopensConflict(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})

	conflict, err := f.store.RecordConflict("lead", merge.ID, ConflictParams{Description: "shader clash"})
	require.NoError(t, err)
	_, err = f.store.ResolveConflict("lead", conflict.ID, "redid shader")
	require.NoError(t, err)

	reopened, err := f.store.UnresolveConflict("lead", conflict.ID)
	require.NoError(t, err)
	assert.Nil(t, reopened.Resolution)
	assert.Nil(t, reopened.ResolvedAt)
	assert.False(t, reopened.Resolved())
}

func TestCancelFromConflicted(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})

	_, err := f.store.MarkConflicted("lead", merge.ID, map[string]any{"count": 2})
	require.NoError(t, err)

	cancelled, err := f.store.Cancel("lead", merge.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeCancelled, cancelled.Status)
}

func TestJobTimestampsAndTransitions(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})
	jobs, err := f.store.ListJobs(merge.ID)
	require.NoError(t, err)
	job := jobs[0]

	// queued cannot jump straight to completed.
	completed := models.JobCompleted
	_, err = f.store.UpdateJob("lead", job.ID, JobUpdate{Status: &completed})
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	running := models.JobRunning
	started, err := f.store.UpdateJob("lead", job.ID, JobUpdate{Status: &running, AppendLog: "picked up"})
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	assert.Nil(t, started.CompletedAt)
	assert.Contains(t, started.Logs, "picked up")

	finished, err := f.store.UpdateJob("lead", job.ID, JobUpdate{Status: &completed})
	require.NoError(t, err)
	require.NotNil(t, finished.CompletedAt)
}

func TestSubmitGatePassedOnlyOnGateJobs(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})
	jobs, err := f.store.ListJobs(merge.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobAutoIntegrate, jobs[0].JobType)

	passed := true
	_, err = f.store.UpdateJob("lead", jobs[0].ID, JobUpdate{SubmitGatePassed: &passed})
	require.Error(t, err)
	assert.True(t, errs.Validation.Has(err))
}

func TestEnqueueJobOnTerminalMergeRejected(t *testing.T) {
	f := newFixture(t)
	merge := f.newMerge(t, CreateParams{})
	drainJobs(t, f.store, merge.ID)
	_, err := f.store.Complete("lead", merge.ID)
	require.NoError(t, err)

	_, err = f.store.EnqueueJob("lead", merge.ID, models.JobSubmitGate)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

// drainJobs walks every job of the merge to completed.
func drainJobs(t *testing.T, store *Store, mergeID string) {
	t.Helper()
	drainJobsWithGateVerdict(t, store, mergeID, true)
}

func drainJobsWithGateVerdict(t *testing.T, store *Store, mergeID string, gatePassed bool) {
	t.Helper()
	jobs, err := store.ListJobs(mergeID)
	require.NoError(t, err)
	running := models.JobRunning
	completed := models.JobCompleted
	for _, job := range jobs {
		_, err = store.UpdateJob("lead", job.ID, JobUpdate{Status: &running})
		require.NoError(t, err)
		update := JobUpdate{Status: &completed}
		if job.JobType == models.JobSubmitGate {
			verdict := gatePassed
			update.SubmitGatePassed = &verdict
		}
		_, err = store.UpdateJob("lead", job.ID, update)
		require.NoError(t, err)
	}
}
