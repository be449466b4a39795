package assets

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
		&models.Branch{}, &models.Asset{}, &models.AssetVersion{},
		&models.ChangelistItem{}, &models.AuditRecord{},
	))
	return db
}

func newTestStore(t *testing.T) (*Store, *projects.Store, string, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	recorder := audit.NewRecorder(slog.Default())
	projectStore := projects.NewStore(db, recorder)
	project, err := projectStore.Create("user-1", projects.CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)
	return NewStore(db, projectStore, recorder), projectStore, project.ID, db
}

func TestCreateAsset(t *testing.T) {
	store, _, projectID, _ := newTestStore(t)

	asset, err := store.Create("user-1", CreateParams{
		ProjectID: projectID, Name: "hero_rig", Type: "rig",
		Metadata: map[string]any{"dcc": "maya"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, asset.LatestVersion)
	assert.Equal(t, "maya", asset.Metadata["dcc"])
}

func TestVersionNumbersMonotonic(t *testing.T) {
	store, _, projectID, _ := newTestStore(t)

	asset, err := store.Create("user-1", CreateParams{ProjectID: projectID, Name: "hero_rig"})
	require.NoError(t, err)

	v1, err := store.CreateVersion("user-1", asset.ID, VersionParams{FilePath: "rig_v1.ma"})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)

	v2, err := store.CreateVersion("user-1", asset.ID, VersionParams{FilePath: "rig_v2.ma"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)

	got, err := store.Get(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LatestVersion)
}

func TestExplicitVersionNumber(t *testing.T) {
	store, _, projectID, _ := newTestStore(t)

	asset, err := store.Create("user-1", CreateParams{ProjectID: projectID, Name: "hero_rig"})
	require.NoError(t, err)

	v1, err := store.CreateVersion("user-1", asset.ID, VersionParams{VersionNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)

	_, err = store.CreateVersion("user-1", asset.ID, VersionParams{VersionNumber: 1})
	assert.True(t, errs.Validation.Has(err))

	_, err = store.CreateVersion("user-1", asset.ID, VersionParams{VersionNumber: 5})
	assert.True(t, errs.Validation.Has(err))

	v2, err := store.CreateVersion("user-1", asset.ID, VersionParams{VersionNumber: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
}

func TestDeletedVersionNumberNotReused(t *testing.T) {
	store, _, projectID, _ := newTestStore(t)

	asset, err := store.Create("user-1", CreateParams{ProjectID: projectID, Name: "hero_rig"})
	require.NoError(t, err)

	_, err = store.CreateVersion("user-1", asset.ID, VersionParams{})
	require.NoError(t, err)
	v2, err := store.CreateVersion("user-1", asset.ID, VersionParams{})
	require.NoError(t, err)

	require.NoError(t, store.DeleteVersion("user-1", v2.ID))

	v3, err := store.CreateVersion("user-1", asset.ID, VersionParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, v3.VersionNumber)
}

func TestDeleteVersionReferencedByChangelistRejected(t *testing.T) {
	store, _, projectID, db := newTestStore(t)

	asset, err := store.Create("user-1", CreateParams{ProjectID: projectID, Name: "hero_rig"})
	require.NoError(t, err)
	version, err := store.CreateVersion("user-1", asset.ID, VersionParams{})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.ChangelistItem{
		ID: "item-1", ChangelistID: "cl-1", AssetVersionID: version.ID,
		Action: models.ActionEdit,
	}).Error)

	err = store.DeleteVersion("user-1", version.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestVersionBranchMustShareProject(t *testing.T) {
	store, projectStore, projectID, db := newTestStore(t)

	other, err := projectStore.Create("user-1", projects.CreateParams{Name: "Other", Code: "OT"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Branch{
		ID: "br-1", ProjectID: other.ID, Name: "main",
	}).Error)

	asset, err := store.Create("user-1", CreateParams{ProjectID: projectID, Name: "hero_rig"})
	require.NoError(t, err)

	branchID := "br-1"
	_, err = store.CreateVersion("user-1", asset.ID, VersionParams{BranchID: &branchID})
	require.Error(t, err)
	assert.True(t, errs.Integrity.Has(err))
}

func TestArchivedProjectFreezesAssets(t *testing.T) {
	store, projectStore, projectID, _ := newTestStore(t)

	asset, err := store.Create("user-1", CreateParams{ProjectID: projectID, Name: "hero_rig"})
	require.NoError(t, err)

	_, err = projectStore.Archive("user-1", projectID)
	require.NoError(t, err)

	_, err = store.Create("user-1", CreateParams{ProjectID: projectID, Name: "villain_rig"})
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	_, err = store.CreateVersion("user-1", asset.ID, VersionParams{})
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	name := "renamed"
	_, err = store.Update("user-1", asset.ID, UpdateParams{Name: &name})
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}
