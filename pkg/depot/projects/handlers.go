package projects

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/cache"
	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/identity"
)

type projectResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Code            string  `json:"code"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status"`
	StorageQuotaTB  float64 `json:"storageQuotaTb"`
	StorageProvider string  `json:"storageProvider,omitempty"`
	StorageLocation string  `json:"storageLocation,omitempty"`
	ArchivedAt      string  `json:"archivedAt,omitempty"`
	ArchivedBy      string  `json:"archivedBy,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

func toResponse(p *models.Project) projectResponse {
	resp := projectResponse{
		ID:              p.ID,
		Name:            p.Name,
		Code:            p.Code,
		Description:     p.Description,
		Status:          string(p.Status),
		StorageQuotaTB:  p.StorageQuotaTB,
		StorageProvider: p.StorageProvider,
		StorageLocation: p.StorageLocation,
		ArchivedBy:      p.ArchivedBy,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339Nano),
	}
	if p.ArchivedAt != nil {
		resp.ArchivedAt = p.ArchivedAt.Format(time.RFC3339Nano)
	}
	return resp
}

// CreateProjectHandler handles POST /projects. Any authenticated user may
// create a project; they become its owner.
func CreateProjectHandler(store *Store, caches *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		var body struct {
			Name            string  `json:"name"`
			Code            string  `json:"code"`
			Description     string  `json:"description"`
			Status          string  `json:"status"`
			StorageQuotaTB  float64 `json:"storageQuotaTb"`
			StorageProvider string  `json:"storageProvider"`
			StorageLocation string  `json:"storageLocation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		project, err := store.Create(id.UserID, CreateParams{
			Name:            body.Name,
			Code:            body.Code,
			Description:     body.Description,
			Status:          models.ProjectStatus(body.Status),
			StorageQuotaTB:  body.StorageQuotaTB,
			StorageProvider: body.StorageProvider,
			StorageLocation: body.StorageLocation,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		caches.InvalidateProjects()
		writeJSON(w, http.StatusCreated, toResponse(project))
	}
}

// ListProjectsHandler handles GET /projects.
func ListProjectsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("includeArchived"))
		projects, err := store.List(includeArchived)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]projectResponse, len(projects))
		for i := range projects {
			out[i] = toResponse(&projects[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": out})
	}
}

// GetProjectHandler handles GET /projects/{projectId}.
func GetProjectHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := store.Get(chi.URLParam(r, "projectId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if project == nil {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeJSON(w, http.StatusOK, toResponse(project))
	}
}

// UpdateProjectHandler handles PATCH /projects/{projectId}.
func UpdateProjectHandler(store *Store, enforcer *authz.Enforcer, caches *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMemberManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Name            *string  `json:"name"`
			Description     *string  `json:"description"`
			Status          *string  `json:"status"`
			StorageQuotaTB  *float64 `json:"storageQuotaTb"`
			StorageProvider *string  `json:"storageProvider"`
			StorageLocation *string  `json:"storageLocation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		params := UpdateParams{
			Name:            body.Name,
			Description:     body.Description,
			StorageQuotaTB:  body.StorageQuotaTB,
			StorageProvider: body.StorageProvider,
			StorageLocation: body.StorageLocation,
		}
		if body.Status != nil {
			status := models.ProjectStatus(*body.Status)
			params.Status = &status
		}

		project, err := store.Update(id.UserID, projectID, params)
		if err != nil {
			writeErr(w, err)
			return
		}
		caches.InvalidateProjects()
		writeJSON(w, http.StatusOK, toResponse(project))
	}
}

// ArchiveProjectHandler handles POST /projects/{projectId}/archive.
func ArchiveProjectHandler(store *Store, enforcer *authz.Enforcer, caches *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireRole(id, projectID, models.RoleOwner); err != nil {
			writeErr(w, err)
			return
		}

		project, err := store.Archive(id.UserID, projectID)
		if err != nil {
			writeErr(w, err)
			return
		}
		caches.InvalidateProjects()
		writeJSON(w, http.StatusOK, toResponse(project))
	}
}

// GetArchiveRecordHandler handles GET /projects/{projectId}/archive.
func GetArchiveRecordHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		record, err := store.ArchiveRecord(projectID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, "project has no archive record")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":              record.ID,
			"projectId":       record.ProjectID,
			"assetCount":      record.AssetCount,
			"versionCount":    record.VersionCount,
			"memberCount":     record.MemberCount,
			"storageQuotaTb":  record.StorageQuotaTB,
			"storageLocation": record.StorageLocation,
			"archivedBy":      record.ArchivedBy,
			"createdAt":       record.CreatedAt.Format(time.RFC3339Nano),
		})
	}
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
