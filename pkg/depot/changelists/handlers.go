package changelists

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

type changelistResponse struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"projectId"`
	WorkspaceID    string  `json:"workspaceId"`
	CreatedBy      string  `json:"createdBy"`
	TargetBranchID *string `json:"targetBranchId,omitempty"`
	Status         string  `json:"status"`
	Description    string  `json:"description,omitempty"`
	SubmitterNotes string  `json:"submitterNotes,omitempty"`
	SubmittedAt    string  `json:"submittedAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

func toResponse(cl *models.Changelist) changelistResponse {
	resp := changelistResponse{
		ID:             cl.ID,
		ProjectID:      cl.ProjectID,
		WorkspaceID:    cl.WorkspaceID,
		CreatedBy:      cl.CreatedBy,
		TargetBranchID: cl.TargetBranchID,
		Status:         string(cl.Status),
		Description:    cl.Description,
		SubmitterNotes: cl.SubmitterNotes,
		CreatedAt:      cl.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      cl.UpdatedAt.Format(time.RFC3339Nano),
	}
	if cl.SubmittedAt != nil {
		resp.SubmittedAt = cl.SubmittedAt.Format(time.RFC3339Nano)
	}
	return resp
}

type itemResponse struct {
	ID             string  `json:"id"`
	ChangelistID   string  `json:"changelistId"`
	AssetVersionID string  `json:"assetVersionId"`
	Action         string  `json:"action"`
	TargetBranchID *string `json:"targetBranchId,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

func toItemResponse(i *models.ChangelistItem) itemResponse {
	return itemResponse{
		ID:             i.ID,
		ChangelistID:   i.ChangelistID,
		AssetVersionID: i.AssetVersionID,
		Action:         string(i.Action),
		TargetBranchID: i.TargetBranchID,
		CreatedAt:      i.CreatedAt.Format(time.RFC3339Nano),
	}
}

type shelfResponse struct {
	ID             string  `json:"id"`
	WorkspaceID    string  `json:"workspaceId"`
	AssetVersionID string  `json:"assetVersionId"`
	ChangelistID   *string `json:"changelistId,omitempty"`
	Description    string  `json:"description,omitempty"`
	CreatedBy      string  `json:"createdBy"`
	CreatedAt      string  `json:"createdAt"`
}

func toShelfResponse(s *models.Shelf) shelfResponse {
	return shelfResponse{
		ID:             s.ID,
		WorkspaceID:    s.WorkspaceID,
		AssetVersionID: s.AssetVersionID,
		ChangelistID:   s.ChangelistID,
		Description:    s.Description,
		CreatedBy:      s.CreatedBy,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339Nano),
	}
}

// CreateChangelistHandler handles POST /projects/{projectId}/changelists.
func CreateChangelistHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			WorkspaceID    string  `json:"workspaceId"`
			TargetBranchID *string `json:"targetBranchId"`
			Description    string  `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.WorkspaceID == "" {
			writeError(w, http.StatusBadRequest, "workspaceId is required")
			return
		}

		cl, err := store.Create(id.UserID, CreateParams{
			ProjectID:      projectID,
			WorkspaceID:    body.WorkspaceID,
			TargetBranchID: body.TargetBranchID,
			Description:    body.Description,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(cl))
	}
}

// ListChangelistsHandler handles GET /projects/{projectId}/changelists.
func ListChangelistsHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		lists, err := store.List(projectID,
			models.ChangelistStatus(r.URL.Query().Get("status")),
			r.URL.Query().Get("createdBy"))
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]changelistResponse, len(lists))
		for i := range lists {
			out[i] = toResponse(&lists[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"changelists": out})
	}
}

// GetChangelistHandler handles GET /projects/{projectId}/changelists/{changelistId},
// returning the changelist with its items.
func GetChangelistHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		cl, err := store.Get(chi.URLParam(r, "changelistId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if cl == nil || cl.ProjectID != projectID {
			writeError(w, http.StatusNotFound, "changelist not found")
			return
		}

		items, err := store.ListItems(cl.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		itemsOut := make([]itemResponse, len(items))
		for i := range items {
			itemsOut[i] = toItemResponse(&items[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"changelist": toResponse(cl),
			"items":      itemsOut,
		})
	}
}

// changelistInProject confirms the routed changelist belongs to the routed
// project, so a role held in one project cannot reach into another. The
// project of a changelist never changes, making the pre-check safe outside
// the mutation's transaction.
func changelistInProject(store *Store, projectID, changelistID string) error {
	cl, err := store.Get(changelistID)
	if err != nil {
		return err
	}
	if cl == nil || cl.ProjectID != projectID {
		return errs.NotFound.New("changelist %s not found", changelistID)
	}
	return nil
}

// UpdateChangelistHandler handles PATCH /projects/{projectId}/changelists/{changelistId}.
func UpdateChangelistHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := changelistInProject(store, projectID, chi.URLParam(r, "changelistId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Description    *string `json:"description"`
			TargetBranchID *string `json:"targetBranchId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		cl, err := store.Update(id.UserID, chi.URLParam(r, "changelistId"), UpdateParams{
			Description:    body.Description,
			TargetBranchID: body.TargetBranchID,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(cl))
	}
}

// AddItemHandler handles POST /projects/{projectId}/changelists/{changelistId}/items.
func AddItemHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := changelistInProject(store, projectID, chi.URLParam(r, "changelistId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			AssetVersionID string  `json:"assetVersionId"`
			Action         string  `json:"action"`
			TargetBranchID *string `json:"targetBranchId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.AssetVersionID == "" {
			writeError(w, http.StatusBadRequest, "assetVersionId is required")
			return
		}

		item, err := store.AddItem(id.UserID, chi.URLParam(r, "changelistId"),
			body.AssetVersionID, models.ItemAction(body.Action), body.TargetBranchID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toItemResponse(item))
	}
}

// RemoveItemHandler handles DELETE /projects/{projectId}/changelists/{changelistId}/items/{itemId}.
func RemoveItemHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := changelistInProject(store, projectID, chi.URLParam(r, "changelistId")); err != nil {
			writeErr(w, err)
			return
		}

		err := store.RemoveItem(id.UserID, chi.URLParam(r, "changelistId"), chi.URLParam(r, "itemId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// statusHandler builds a handler for the explicit status transitions.
// gate decides which roles may drive the transition.
func statusHandler(store *Store, gate func(identity.Identity, string) error,
	fn func(actor, id string) (*models.Changelist, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := gate(id, projectID); err != nil {
			writeErr(w, err)
			return
		}
		if err := changelistInProject(store, projectID, chi.URLParam(r, "changelistId")); err != nil {
			writeErr(w, err)
			return
		}

		cl, err := fn(id.UserID, chi.URLParam(r, "changelistId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(cl))
	}
}

// SubmitChangelistHandler handles POST /projects/{projectId}/changelists/{changelistId}/submit.
func SubmitChangelistHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := changelistInProject(store, projectID, chi.URLParam(r, "changelistId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Notes string `json:"notes"`
		}
		// An empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&body)

		cl, err := store.Submit(id.UserID, chi.URLParam(r, "changelistId"), body.Notes)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(cl))
	}
}

// CreateShelfHandler handles POST /projects/{projectId}/shelves.
func CreateShelfHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireChangelistEditor(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			WorkspaceID    string  `json:"workspaceId"`
			AssetVersionID string  `json:"assetVersionId"`
			ChangelistID   *string `json:"changelistId"`
			Description    string  `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.WorkspaceID == "" || body.AssetVersionID == "" {
			writeError(w, http.StatusBadRequest, "workspaceId and assetVersionId are required")
			return
		}

		shelf, err := store.CreateShelf(id.UserID, ShelfParams{
			ProjectID:      projectID,
			WorkspaceID:    body.WorkspaceID,
			AssetVersionID: body.AssetVersionID,
			ChangelistID:   body.ChangelistID,
			Description:    body.Description,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toShelfResponse(shelf))
	}
}

// ListShelvesHandler handles GET /projects/{projectId}/shelves?workspaceId=.
func ListShelvesHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		workspaceID := r.URL.Query().Get("workspaceId")
		if workspaceID == "" {
			writeError(w, http.StatusBadRequest, "workspaceId is required")
			return
		}
		shelves, err := store.ListShelves(projectID, workspaceID)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]shelfResponse, len(shelves))
		for i := range shelves {
			out[i] = toShelfResponse(&shelves[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"shelves": out})
	}
}

// DeleteShelfHandler handles DELETE /projects/{projectId}/shelves/{shelfId}.
func DeleteShelfHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := store.DeleteShelf(id, projectID, chi.URLParam(r, "shelfId")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Router creates a chi.Router for the changelist API, mounted under
// /projects/{projectId}/changelists.
func Router(store *Store, enforcer *authz.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/", CreateChangelistHandler(store, enforcer))
	r.Get("/", ListChangelistsHandler(store, enforcer))
	r.Get("/{changelistId}", GetChangelistHandler(store, enforcer))
	r.Patch("/{changelistId}", UpdateChangelistHandler(store, enforcer))
	r.Post("/{changelistId}/items", AddItemHandler(store, enforcer))
	r.Delete("/{changelistId}/items/{itemId}", RemoveItemHandler(store, enforcer))
	r.Post("/{changelistId}/request-review", statusHandler(store, enforcer.RequireChangelistEditor, store.MarkPendingReview))
	r.Post("/{changelistId}/reopen", statusHandler(store, enforcer.RequireReviewer, store.ReturnToOpen))
	r.Post("/{changelistId}/abandon", statusHandler(store, enforcer.RequireChangelistEditor, store.Abandon))
	r.Post("/{changelistId}/submit", SubmitChangelistHandler(store, enforcer))
	return r
}

// ShelfRouter creates a chi.Router for the shelf API, mounted under
// /projects/{projectId}/shelves.
func ShelfRouter(store *Store, enforcer *authz.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/", CreateShelfHandler(store, enforcer))
	r.Get("/", ListShelvesHandler(store, enforcer))
	r.Delete("/{shelfId}", DeleteShelfHandler(store, enforcer))
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
