package projects

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
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Project{}, &models.ProjectArchiveRecord{}, &models.ProjectMember{},
		&models.Asset{}, &models.AssetVersion{}, &models.AuditRecord{},
	))
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewStore(db, audit.NewRecorder(slog.Default())), db
}

func TestCreateDefaults(t *testing.T) {
	store, db := newTestStore(t)

	project, err := store.Create("user-1", CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectPlanning, project.Status)
	assert.Equal(t, 10.0, project.StorageQuotaTB)

	var member models.ProjectMember
	require.NoError(t, db.Where("project_id = ? AND user_id = ?", project.ID, "user-1").First(&member).Error)
	assert.Equal(t, models.RoleOwner, member.Role)

	var audits int64
	require.NoError(t, db.Model(&models.AuditRecord{}).Where("entity_id = ?", project.ID).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Create("user-1", CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)

	_, err = store.Create("user-2", CreateParams{Name: "Other", Code: "NF"})
	require.Error(t, err)
	assert.True(t, errs.Validation.Has(err))
}

func TestCreateRejectsArchivedStatus(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Create("user-1", CreateParams{
		Name: "Nightfall", Code: "NF", Status: models.ProjectArchived,
	})
	require.Error(t, err)
	assert.True(t, errs.Validation.Has(err))
}

func TestListExcludesArchivedByDefault(t *testing.T) {
	store, _ := newTestStore(t)

	p1, err := store.Create("user-1", CreateParams{Name: "One", Code: "P1"})
	require.NoError(t, err)
	_, err = store.Create("user-1", CreateParams{Name: "Two", Code: "P2"})
	require.NoError(t, err)
	_, err = store.Archive("user-1", p1.ID)
	require.NoError(t, err)

	visible, err := store.List(false)
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	all, err := store.List(true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateArchivedProjectRejected(t *testing.T) {
	store, _ := newTestStore(t)

	project, err := store.Create("user-1", CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)
	_, err = store.Archive("user-1", project.ID)
	require.NoError(t, err)

	name := "Renamed"
	_, err = store.Update("user-1", project.ID, UpdateParams{Name: &name})
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestUpdateCannotArchiveViaStatus(t *testing.T) {
	store, _ := newTestStore(t)

	project, err := store.Create("user-1", CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)

	archived := models.ProjectArchived
	_, err = store.Update("user-1", project.ID, UpdateParams{Status: &archived})
	require.Error(t, err)
	assert.True(t, errs.Validation.Has(err))
}

func TestArchiveCapturesRecordOnce(t *testing.T) {
	store, db := newTestStore(t)

	project, err := store.Create("user-1", CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Asset{
		ID: "asset-1", ProjectID: project.ID, Name: "hero_rig",
	}).Error)
	require.NoError(t, db.Create(&models.AssetVersion{
		ID: "ver-1", AssetID: "asset-1", VersionNumber: 1,
	}).Error)

	archived, err := store.Archive("user-1", project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectArchived, archived.Status)
	require.NotNil(t, archived.ArchivedAt)
	assert.Equal(t, "user-1", archived.ArchivedBy)

	record, err := store.ArchiveRecord(project.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(1), record.AssetCount)
	assert.Equal(t, int64(1), record.VersionCount)
	assert.Equal(t, int64(1), record.MemberCount)

	_, err = store.Archive("user-1", project.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestArchiveRecordImmutable(t *testing.T) {
	store, db := newTestStore(t)

	project, err := store.Create("user-1", CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)
	_, err = store.Archive("user-1", project.ID)
	require.NoError(t, err)

	record, err := store.ArchiveRecord(project.ID)
	require.NoError(t, err)
	require.NotNil(t, record)

	err = db.Model(record).Update("asset_count", 99).Error
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))

	err = db.Delete(record).Error
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}

func TestEnsureActive(t *testing.T) {
	store, db := newTestStore(t)

	project, err := store.Create("user-1", CreateParams{Name: "Nightfall", Code: "NF"})
	require.NoError(t, err)

	require.NoError(t, store.EnsureActive(db, project.ID))

	err = store.EnsureActive(db, "missing")
	require.Error(t, err)
	assert.True(t, errs.NotFound.Has(err))

	_, err = store.Archive("user-1", project.ID)
	require.NoError(t, err)
	err = store.EnsureActive(db, project.ID)
	require.Error(t, err)
	assert.True(t, errs.StateConflict.Has(err))
}
