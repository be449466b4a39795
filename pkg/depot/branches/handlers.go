package branches

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

type branchResponse struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"projectId"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	ParentBranchID *string `json:"parentBranchId,omitempty"`
	CreatedBy      string  `json:"createdBy,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

func toResponse(b *models.Branch) branchResponse {
	return branchResponse{
		ID:             b.ID,
		ProjectID:      b.ProjectID,
		Name:           b.Name,
		Description:    b.Description,
		ParentBranchID: b.ParentBranchID,
		CreatedBy:      b.CreatedBy,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339Nano),
	}
}

// CreateBranchHandler handles POST /projects/{projectId}/branches.
func CreateBranchHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Name           string  `json:"name"`
			Description    string  `json:"description"`
			ParentBranchID *string `json:"parentBranchId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		branch, err := store.Create(id.UserID, CreateParams{
			ProjectID:      projectID,
			Name:           body.Name,
			Description:    body.Description,
			ParentBranchID: body.ParentBranchID,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(branch))
	}
}

// ListBranchesHandler handles GET /projects/{projectId}/branches.
func ListBranchesHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		branches, err := store.List(projectID)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]branchResponse, len(branches))
		for i := range branches {
			out[i] = toResponse(&branches[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"branches": out})
	}
}

// GetBranchHandler handles GET /projects/{projectId}/branches/{branchId}.
func GetBranchHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		branch, err := store.Get(chi.URLParam(r, "branchId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if branch == nil || branch.ProjectID != projectID {
			writeError(w, http.StatusNotFound, "branch not found")
			return
		}
		writeJSON(w, http.StatusOK, toResponse(branch))
	}
}

// UpdateBranchHandler handles PATCH /projects/{projectId}/branches/{branchId}.
func UpdateBranchHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		branchID := chi.URLParam(r, "branchId")
		existing, err := store.Get(branchID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if existing == nil || existing.ProjectID != projectID {
			writeError(w, http.StatusNotFound, "branch not found")
			return
		}

		var body struct {
			Name           *string `json:"name"`
			Description    *string `json:"description"`
			ParentBranchID *string `json:"parentBranchId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		branch, err := store.Update(id.UserID, chi.URLParam(r, "branchId"), UpdateParams{
			Name:           body.Name,
			Description:    body.Description,
			ParentBranchID: body.ParentBranchID,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(branch))
	}
}

// Router creates a chi.Router for the branch API, mounted under
// /projects/{projectId}/branches.
func Router(store *Store, enforcer *authz.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/", CreateBranchHandler(store, enforcer))
	r.Get("/", ListBranchesHandler(store, enforcer))
	r.Get("/{branchId}", GetBranchHandler(store, enforcer))
	r.Patch("/{branchId}", UpdateBranchHandler(store, enforcer))
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
