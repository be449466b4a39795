package changelists

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
	"github.com/assetdepot/depot/pkg/identity"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Project{}, &models.ProjectArchiveRecord{}, &models.ProjectMember{},
		&models.Branch{}, &models.Asset{}, &models.AssetVersion{}, &models.AssetLock{},
		&models.Workspace{}, &models.Changelist{}, &models.ChangelistItem{},
		&models.Shelf{}, &models.AuditRecord{},
	))
	return db
}

type fixture struct {
	db        *gorm.DB
	store     *Store
	projects  *projects.Store
	project   string
	branch    string
	workspace string
	version   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	recorder := audit.NewRecorder(slog.Default())
	projectStore := projects.NewStore(db, recorder)
	project, err := projectStore.Create("alice", projects.CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Branch{
		ID: "br-main", ProjectID: project.ID, Name: "main",
	}).Error)
	require.NoError(t, db.Create(&models.Workspace{
		ID: "ws-1", ProjectID: project.ID, UserID: "alice", Name: "dev",
	}).Error)
	require.NoError(t, db.Create(&models.Asset{
		ID: "asset-1", ProjectID: project.ID, Name: "hero_rig", LatestVersion: 1,
	}).Error)
	require.NoError(t, db.Create(&models.AssetVersion{
		ID: "ver-1", AssetID: "asset-1", VersionNumber: 1,
	}).Error)

	return &fixture{
		db:        db,
		store:     NewStore(db, projectStore, recorder),
		projects:  projectStore,
		project:   project.ID,
		branch:    "br-main",
		workspace: "ws-1",
		version:   "ver-1",
	}
}

func (f *fixture) openChangelist(t *testing.T) *models.Changelist {
	t.Helper()
	branch := f.branch
	cl, err := f.store.Create("alice", CreateParams{
		ProjectID: f.project, WorkspaceID: f.workspace, TargetBranchID: &branch,
	})
	require.NoError(t, err)
	return cl
}

func TestCreateChangelist(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)
	assert.Equal(t, models.ChangelistOpen, cl.Status)
	assert.Equal(t, "alice", cl.CreatedBy)
}

func TestAddItemUpsertsAction(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	item, err := f.store.AddItem("alice", cl.ID, f.version, models.ActionAdd, nil)
	require.NoError(t, err)

	again, err := f.store.AddItem("alice", cl.ID, f.version, models.ActionEdit, nil)
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, models.ActionEdit, again.Action)

	items, err := f.store.ListItems(cl.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestItemsFrozenAfterSubmit(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	_, err := f.store.AddItem("alice", cl.ID, f.version, models.ActionAdd, nil)
	require.NoError(t, err)
	_, err = f.store.Submit("alice", cl.ID, "")
	require.NoError(t, err)

	_, err = f.store.AddItem("alice", cl.ID, f.version, models.ActionEdit, nil)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestSubmitRequiresItemsAndTarget(t *testing.T) {
	f := newFixture(t)

	// No target branch.
	noTarget, err := f.store.Create("alice", CreateParams{
		ProjectID: f.project, WorkspaceID: f.workspace,
	})
	require.NoError(t, err)
	_, err = f.store.AddItem("alice", noTarget.ID, f.version, models.ActionAdd, nil)
	require.NoError(t, err)
	_, err = f.store.Submit("alice", noTarget.ID, "")
	require.Error(t, err)
	assert.True(t, errs.Validation.Has(err))

	// No items.
	empty := f.openChangelist(t)
	_, err = f.store.Submit("alice", empty.ID, "")
	require.Error(t, err)
	assert.True(t, errs.Validation.Has(err))
}

func TestSubmitOnlyOnce(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	_, err := f.store.AddItem("alice", cl.ID, f.version, models.ActionAdd, nil)
	require.NoError(t, err)

	submitted, err := f.store.Submit("alice", cl.ID, "first pass")
	require.NoError(t, err)
	assert.Equal(t, models.ChangelistSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	_, err = f.store.Submit("alice", cl.ID, "again")
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestSubmitKeepsLocksHeld(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	require.NoError(t, f.db.Create(&models.AssetLock{
		ID: "lock-1", AssetID: "asset-1", LockedBy: "alice",
	}).Error)

	_, err := f.store.AddItem("alice", cl.ID, f.version, models.ActionEdit, nil)
	require.NoError(t, err)
	_, err = f.store.Submit("alice", cl.ID, "")
	require.NoError(t, err)

	// Submission does not release locks; they stay held until the owner
	// releases them.
	var count int64
	require.NoError(t, f.db.Model(&models.AssetLock{}).Where("asset_id = ?", "asset-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReviewRoundTrip(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	pending, err := f.store.MarkPendingReview("alice", cl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangelistPendingReview, pending.Status)

	// Items are frozen outside open.
	_, err = f.store.AddItem("alice", cl.ID, f.version, models.ActionAdd, nil)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	reopened, err := f.store.ReturnToOpen("alice", cl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangelistOpen, reopened.Status)
}

func TestAbandonOnlyFromOpen(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	_, err := f.store.MarkPendingReview("alice", cl.ID)
	require.NoError(t, err)
	_, err = f.store.Abandon("alice", cl.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	_, err = f.store.ReturnToOpen("alice", cl.ID)
	require.NoError(t, err)
	abandoned, err := f.store.Abandon("alice", cl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangelistAbandoned, abandoned.Status)
}

func TestShelfLifecycle(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	shelf, err := f.store.CreateShelf("alice", ShelfParams{
		ProjectID:      f.project,
		WorkspaceID:    f.workspace,
		AssetVersionID: f.version,
		ChangelistID:   &cl.ID,
		Description:    "for review",
	})
	require.NoError(t, err)

	shelves, err := f.store.ListShelves(f.project, f.workspace)
	require.NoError(t, err)
	assert.Len(t, shelves, 1)

	// Only the creator or an admin may delete.
	err = f.store.DeleteShelf(identity.Identity{UserID: "bob"}, f.project, shelf.ID)
	require.Error(t, err)
	assert.True(t, errs.Permission.Has(err))

	require.NoError(t, f.store.DeleteShelf(identity.Identity{UserID: "alice"}, f.project, shelf.ID))

	// The shelved version is untouched.
	var version models.AssetVersion
	require.NoError(t, f.db.Where("id = ?", f.version).First(&version).Error)
}

func TestShelfRejectedOnSubmittedChangelist(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)

	_, err := f.store.AddItem("alice", cl.ID, f.version, models.ActionAdd, nil)
	require.NoError(t, err)
	_, err = f.store.Submit("alice", cl.ID, "")
	require.NoError(t, err)

	_, err = f.store.CreateShelf("alice", ShelfParams{
		ProjectID:      f.project,
		WorkspaceID:    f.workspace,
		AssetVersionID: f.version,
		ChangelistID:   &cl.ID,
	})
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestArchivedProjectFreezesChangelists(t *testing.T) {
	f := newFixture(t)
	cl := f.openChangelist(t)
	_, err := f.store.AddItem("alice", cl.ID, f.version, models.ActionAdd, nil)
	require.NoError(t, err)

	_, err = f.projects.Archive("alice", f.project)
	require.NoError(t, err)

	_, err = f.store.Submit("alice", cl.ID, "")
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}
