package authz

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/identity"
)

type memberResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	AddedBy   string `json:"addedBy,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func toMemberResponse(m *models.ProjectMember) memberResponse {
	return memberResponse{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		AddedBy:   m.AddedBy,
		CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
	}
}

// ListMembersHandler handles GET /projects/{projectId}/members.
func ListMembersHandler(store *MemberStore, enforcer *Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		members, err := store.List(projectID)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]memberResponse, len(members))
		for i := range members {
			out[i] = toMemberResponse(&members[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": out})
	}
}

// AddMemberHandler handles POST /projects/{projectId}/members.
func AddMemberHandler(store *MemberStore, enforcer *Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMemberManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.UserID == "" {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}

		member, err := store.Add(id.UserID, projectID, body.UserID, models.Role(body.Role))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMemberResponse(member))
	}
}

// RemoveMemberHandler handles DELETE /projects/{projectId}/members/{userId}.
func RemoveMemberHandler(store *MemberStore, enforcer *Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMemberManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := store.Remove(id.UserID, projectID, chi.URLParam(r, "userId")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// MemberRouter creates a chi.Router for membership management, mounted
// under /projects/{projectId}/members.
func MemberRouter(store *MemberStore, enforcer *Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Get("/", ListMembersHandler(store, enforcer))
	r.Post("/", AddMemberHandler(store, enforcer))
	r.Delete("/{userId}", RemoveMemberHandler(store, enforcer))
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
