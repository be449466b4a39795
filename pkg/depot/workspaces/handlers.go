package workspaces

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/identity"
)

type workspaceResponse struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"projectId"`
	UserID       string  `json:"userId"`
	BranchID     *string `json:"branchId,omitempty"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	LastSyncedAt string  `json:"lastSyncedAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func toWorkspaceResponse(w *models.Workspace) workspaceResponse {
	resp := workspaceResponse{
		ID:          w.ID,
		ProjectID:   w.ProjectID,
		UserID:      w.UserID,
		BranchID:    w.BranchID,
		Name:        w.Name,
		Description: w.Description,
		CreatedAt:   w.CreatedAt.Format(time.RFC3339Nano),
	}
	if w.LastSyncedAt != nil {
		resp.LastSyncedAt = w.LastSyncedAt.Format(time.RFC3339Nano)
	}
	return resp
}

type lockResponse struct {
	ID          string  `json:"id"`
	AssetID     string  `json:"assetId"`
	LockedBy    string  `json:"lockedBy"`
	WorkspaceID *string `json:"workspaceId,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	LockedAt    string  `json:"lockedAt"`
	ExpiresAt   string  `json:"expiresAt,omitempty"`
}

func toLockResponse(l *models.AssetLock) lockResponse {
	resp := lockResponse{
		ID:          l.ID,
		AssetID:     l.AssetID,
		LockedBy:    l.LockedBy,
		WorkspaceID: l.WorkspaceID,
		Notes:       l.Notes,
		LockedAt:    l.LockedAt.Format(time.RFC3339Nano),
	}
	if l.ExpiresAt != nil {
		resp.ExpiresAt = l.ExpiresAt.Format(time.RFC3339Nano)
	}
	return resp
}

// CreateWorkspaceHandler handles POST /projects/{projectId}/workspaces.
// Workspaces always belong to the caller.
func CreateWorkspaceHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Name        string  `json:"name"`
			Description string  `json:"description"`
			BranchID    *string `json:"branchId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		workspace, err := store.Create(id.UserID, CreateParams{
			ProjectID:   projectID,
			UserID:      id.UserID,
			BranchID:    body.BranchID,
			Name:        body.Name,
			Description: body.Description,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWorkspaceResponse(workspace))
	}
}

// ListWorkspacesHandler handles GET /projects/{projectId}/workspaces.
func ListWorkspacesHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		workspaces, err := store.List(projectID, r.URL.Query().Get("userId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]workspaceResponse, len(workspaces))
		for i := range workspaces {
			out[i] = toWorkspaceResponse(&workspaces[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"workspaces": out})
	}
}

// SyncWorkspaceHandler handles POST /projects/{projectId}/workspaces/{workspaceId}/sync.
func SyncWorkspaceHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		workspaceID := chi.URLParam(r, "workspaceId")
		workspace, err := store.Get(workspaceID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if workspace == nil || workspace.ProjectID != projectID {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
		if workspace.UserID != id.UserID && !id.Admin() {
			writeError(w, http.StatusForbidden, "workspace belongs to another user")
			return
		}

		synced, err := store.MarkSynced(workspaceID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWorkspaceResponse(synced))
	}
}

// DeleteWorkspaceHandler handles DELETE /projects/{projectId}/workspaces/{workspaceId}.
func DeleteWorkspaceHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		workspaceID := chi.URLParam(r, "workspaceId")
		workspace, err := store.Get(workspaceID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if workspace == nil || workspace.ProjectID != projectID {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
		if workspace.UserID != id.UserID && !id.Admin() {
			writeError(w, http.StatusForbidden, "workspace belongs to another user")
			return
		}

		if err := store.Delete(id.UserID, workspaceID); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AcquireLockHandler handles POST /projects/{projectId}/locks.
func AcquireLockHandler(locks *LockManager, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			AssetID     string  `json:"assetId"`
			WorkspaceID *string `json:"workspaceId"`
			Notes       string  `json:"notes"`
			TTLMinutes  int     `json:"ttlMinutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.AssetID == "" {
			writeError(w, http.StatusBadRequest, "assetId is required")
			return
		}

		lock, err := locks.Acquire(id.UserID, AcquireParams{
			ProjectID:   projectID,
			AssetID:     body.AssetID,
			WorkspaceID: body.WorkspaceID,
			Notes:       body.Notes,
			TTL:         time.Duration(body.TTLMinutes) * time.Minute,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toLockResponse(lock))
	}
}

// ReleaseLockHandler handles DELETE /projects/{projectId}/locks/{assetId}.
func ReleaseLockHandler(locks *LockManager, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := locks.Release(id, projectID, chi.URLParam(r, "assetId")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListLocksHandler handles GET /projects/{projectId}/locks.
func ListLocksHandler(locks *LockManager, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		list, err := locks.ListLocks(projectID, r.URL.Query().Get("lockedBy"))
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]lockResponse, len(list))
		for i := range list {
			out[i] = toLockResponse(&list[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"locks": out})
	}
}

// Router creates a chi.Router for the workspace API, mounted under
// /projects/{projectId}/workspaces.
func Router(store *Store, enforcer *authz.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/", CreateWorkspaceHandler(store, enforcer))
	r.Get("/", ListWorkspacesHandler(store, enforcer))
	r.Post("/{workspaceId}/sync", SyncWorkspaceHandler(store, enforcer))
	r.Delete("/{workspaceId}", DeleteWorkspaceHandler(store, enforcer))
	return r
}

// LockRouter creates a chi.Router for the lock API, mounted under
// /projects/{projectId}/locks.
func LockRouter(locks *LockManager, enforcer *authz.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/", AcquireLockHandler(locks, enforcer))
	r.Get("/", ListLocksHandler(locks, enforcer))
	r.Delete("/{assetId}", ReleaseLockHandler(locks, enforcer))
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errs.HTTPStatus(err), err.Error())
}
