package assets

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

type assetResponse struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"projectId"`
	Name          string         `json:"name"`
	Type          string         `json:"type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	LatestVersion int            `json:"latestVersion"`
	CreatedBy     string         `json:"createdBy,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

func toAssetResponse(a *models.Asset) assetResponse {
	return assetResponse{
		ID:            a.ID,
		ProjectID:     a.ProjectID,
		Name:          a.Name,
		Type:          a.Type,
		Metadata:      a.Metadata,
		LatestVersion: a.LatestVersion,
		CreatedBy:     a.CreatedBy,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     a.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type versionResponse struct {
	ID            string  `json:"id"`
	AssetID       string  `json:"assetId"`
	VersionNumber int     `json:"versionNumber"`
	BranchID      *string `json:"branchId,omitempty"`
	FilePath      string  `json:"filePath,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	CreatedBy     string  `json:"createdBy,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

func toVersionResponse(v *models.AssetVersion) versionResponse {
	return versionResponse{
		ID:            v.ID,
		AssetID:       v.AssetID,
		VersionNumber: v.VersionNumber,
		BranchID:      v.BranchID,
		FilePath:      v.FilePath,
		Notes:         v.Notes,
		CreatedBy:     v.CreatedBy,
		CreatedAt:     v.CreatedAt.Format(time.RFC3339Nano),
	}
}

// CreateAssetHandler handles POST /projects/{projectId}/assets.
func CreateAssetHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Name     string         `json:"name"`
			Type     string         `json:"type"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		asset, err := store.Create(id.UserID, CreateParams{
			ProjectID: projectID,
			Name:      body.Name,
			Type:      body.Type,
			Metadata:  body.Metadata,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAssetResponse(asset))
	}
}

// ListAssetsHandler handles GET /projects/{projectId}/assets.
func ListAssetsHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		assets, err := store.List(projectID)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]assetResponse, len(assets))
		for i := range assets {
			out[i] = toAssetResponse(&assets[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"assets": out})
	}
}

// GetAssetHandler handles GET /projects/{projectId}/assets/{assetId}.
func GetAssetHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		asset, err := store.Get(chi.URLParam(r, "assetId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if asset == nil || asset.ProjectID != projectID {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		writeJSON(w, http.StatusOK, toAssetResponse(asset))
	}
}

// assetInProject confirms the routed asset belongs to the routed project,
// so a role held in one project cannot reach into another. The project of
// an asset never changes, making the pre-check safe outside the mutation's
// transaction.
func assetInProject(store *Store, projectID, assetID string) error {
	asset, err := store.Get(assetID)
	if err != nil {
		return err
	}
	if asset == nil || asset.ProjectID != projectID {
		return errs.NotFound.New("asset %s not found", assetID)
	}
	return nil
}

// UpdateAssetHandler handles PATCH /projects/{projectId}/assets/{assetId}.
func UpdateAssetHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := assetInProject(store, projectID, chi.URLParam(r, "assetId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Name     *string        `json:"name"`
			Type     *string        `json:"type"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		asset, err := store.Update(id.UserID, chi.URLParam(r, "assetId"), UpdateParams{
			Name:     body.Name,
			Type:     body.Type,
			Metadata: body.Metadata,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAssetResponse(asset))
	}
}

// CreateVersionHandler handles POST /projects/{projectId}/assets/{assetId}/versions.
func CreateVersionHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := assetInProject(store, projectID, chi.URLParam(r, "assetId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			VersionNumber int     `json:"versionNumber"`
			BranchID      *string `json:"branchId"`
			FilePath      string  `json:"filePath"`
			Notes         string  `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		version, err := store.CreateVersion(id.UserID, chi.URLParam(r, "assetId"), VersionParams{
			VersionNumber: body.VersionNumber,
			BranchID:      body.BranchID,
			FilePath:      body.FilePath,
			Notes:         body.Notes,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toVersionResponse(version))
	}
}

// ListVersionsHandler handles GET /projects/{projectId}/assets/{assetId}/versions.
func ListVersionsHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := assetInProject(store, projectID, chi.URLParam(r, "assetId")); err != nil {
			writeErr(w, err)
			return
		}

		versions, err := store.ListVersions(chi.URLParam(r, "assetId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]versionResponse, len(versions))
		for i := range versions {
			out[i] = toVersionResponse(&versions[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": out})
	}
}

// DeleteVersionHandler handles DELETE /projects/{projectId}/assets/{assetId}/versions/{versionId}.
func DeleteVersionHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		assetID := chi.URLParam(r, "assetId")
		if err := assetInProject(store, projectID, assetID); err != nil {
			writeErr(w, err)
			return
		}
		version, err := store.GetVersion(chi.URLParam(r, "versionId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if version == nil || version.AssetID != assetID {
			writeError(w, http.StatusNotFound, "asset version not found")
			return
		}

		if err := store.DeleteVersion(id.UserID, chi.URLParam(r, "versionId")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Router creates a chi.Router for the asset API, mounted under
// /projects/{projectId}/assets.
func Router(store *Store, enforcer *authz.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/", CreateAssetHandler(store, enforcer))
	r.Get("/", ListAssetsHandler(store, enforcer))
	r.Get("/{assetId}", GetAssetHandler(store, enforcer))
	r.Patch("/{assetId}", UpdateAssetHandler(store, enforcer))
	r.Post("/{assetId}/versions", CreateVersionHandler(store, enforcer))
	r.Get("/{assetId}/versions", ListVersionsHandler(store, enforcer))
	r.Delete("/{assetId}/versions/{versionId}", DeleteVersionHandler(store, enforcer))
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
