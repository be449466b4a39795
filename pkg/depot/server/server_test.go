package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/assetdepot/depot/pkg/identity"
)

func newTestServer(t *testing.T) (*Server, chi.Router) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	srv := New(db, identity.DefaultTokenConfig(), nil)
	require.NoError(t, srv.AutoMigrate())
	return srv, srv.MountRoutes()
}

func doJSON(t *testing.T, router chi.Router, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Remote-User", user)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	srv, router := newTestServer(t)
	_, err := srv.Users.Create("ada", "hunter2", "user")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/auth/token", "", map[string]string{
		"username": "ada", "password": "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["access_token"].(string)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, router := newTestServer(t)
	_, err := srv.Users.Create("ada", "hunter2", "user")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/auth/token", "", map[string]string{
		"username": "ada", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIRequiresIdentity(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/projects", "ada", map[string]any{
		"name": "Alpha", "code": "alpha",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	projectID, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, projectID)

	// The creator became the owner, so member-gated subroutes work.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID+"/members", "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A non-member is rejected by the membership gate.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID+"/members", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+projectID+"/branches", "ada", map[string]any{
		"name": "main",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID, "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alpha", decode(t, rec)["name"])

	rec = doJSON(t, router, http.MethodPatch, "/api/v1/projects/"+projectID, "ada", map[string]any{
		"description": "first project",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+projectID+"/archive", "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID+"/archive", "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada", decode(t, rec)["archivedBy"])
}

func TestCrossProjectAccessRejected(t *testing.T) {
	_, router := newTestServer(t)

	// ada's project with a workspace and an open changelist.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/projects", "ada", map[string]any{
		"name": "Alpha", "code": "alpha",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	victimProject, _ := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+victimProject+"/branches", "ada", map[string]any{
		"name": "main",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	branchID, _ := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+victimProject+"/workspaces", "ada", map[string]any{
		"name": "dev",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	workspaceID, _ := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+victimProject+"/changelists", "ada", map[string]any{
		"workspaceId": workspaceID, "targetBranchId": branchID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	changelistID, _ := decode(t, rec)["id"].(string)

	// mallory owns a different project; her role there must not reach
	// into ada's entities addressed under her own project's URL.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects", "mallory", map[string]any{
		"name": "Mine", "code": "mine",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	ownProject, _ := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost,
		"/api/v1/projects/"+ownProject+"/changelists/"+changelistID+"/submit", "mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPatch,
		"/api/v1/projects/"+ownProject+"/branches/"+branchID, "mallory", map[string]any{
			"name": "hijacked",
		})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+victimProject+"/branches", "ada", map[string]any{
		"name": "feature", "parentBranchId": branchID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	featureID, _ := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+victimProject+"/merges", "ada", map[string]any{
		"sourceBranchId": featureID, "targetBranchId": branchID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	mergeID, _ := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost,
		"/api/v1/projects/"+ownProject+"/merges/"+mergeID+"/cancel", "mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The victim changelist is untouched.
	rec = doJSON(t, router, http.MethodGet,
		"/api/v1/projects/"+victimProject+"/changelists/"+changelistID, "ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cl, _ := decode(t, rec)["changelist"].(map[string]any)
	assert.Equal(t, "open", cl["status"])
}

func TestProjectListCaching(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/projects", "ada", map[string]any{
		"name": "Alpha", "code": "alpha",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	first := doJSON(t, router, http.MethodGet, "/api/v1/projects", "ada", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := doJSON(t, router, http.MethodGet, "/api/v1/projects", "ada", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	// A mutation invalidates the listing cache.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/projects", "ada", map[string]any{
		"name": "Beta", "code": "beta",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	third := doJSON(t, router, http.MethodGet, "/api/v1/projects", "ada", nil)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	projects, _ := decode(t, third)["projects"].([]any)
	assert.Len(t, projects, 2)
}
