package merges

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

type mergeResponse struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"projectId"`
	SourceBranchID  string         `json:"sourceBranchId"`
	TargetBranchID  string         `json:"targetBranchId"`
	InitiatedBy     string         `json:"initiatedBy"`
	Status          string         `json:"status"`
	ConflictSummary map[string]any `json:"conflictSummary,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	CompletedAt     string         `json:"completedAt,omitempty"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`
}

func toMergeResponse(m *models.BranchMerge) mergeResponse {
	resp := mergeResponse{
		ID:              m.ID,
		ProjectID:       m.ProjectID,
		SourceBranchID:  m.SourceBranchID,
		TargetBranchID:  m.TargetBranchID,
		InitiatedBy:     m.InitiatedBy,
		Status:          string(m.Status),
		ConflictSummary: m.ConflictSummary,
		Notes:           m.Notes,
		CreatedAt:       m.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       m.UpdatedAt.Format(time.RFC3339Nano),
	}
	if m.CompletedAt != nil {
		resp.CompletedAt = m.CompletedAt.Format(time.RFC3339Nano)
	}
	return resp
}

type conflictResponse struct {
	ID             string  `json:"id"`
	BranchMergeID  string  `json:"branchMergeId"`
	AssetID        *string `json:"assetId,omitempty"`
	AssetVersionID *string `json:"assetVersionId,omitempty"`
	Description    string  `json:"description,omitempty"`
	Resolution     *string `json:"resolution,omitempty"`
	ResolvedAt     string  `json:"resolvedAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

func toConflictResponse(c *models.MergeConflict) conflictResponse {
	resp := conflictResponse{
		ID:             c.ID,
		BranchMergeID:  c.BranchMergeID,
		AssetID:        c.AssetID,
		AssetVersionID: c.AssetVersionID,
		Description:    c.Description,
		Resolution:     c.Resolution,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339Nano),
	}
	if c.ResolvedAt != nil {
		resp.ResolvedAt = c.ResolvedAt.Format(time.RFC3339Nano)
	}
	return resp
}

type jobResponse struct {
	ID               string         `json:"id"`
	BranchMergeID    string         `json:"branchMergeId"`
	JobType          string         `json:"jobType"`
	Status           string         `json:"status"`
	ConflictSnapshot map[string]any `json:"conflictSnapshot,omitempty"`
	SubmitGatePassed bool           `json:"submitGatePassed"`
	Logs             string         `json:"logs,omitempty"`
	StartedAt        string         `json:"startedAt,omitempty"`
	CompletedAt      string         `json:"completedAt,omitempty"`
	CreatedAt        string         `json:"createdAt"`
}

func toJobResponse(j *models.MergeJob) jobResponse {
	resp := jobResponse{
		ID:               j.ID,
		BranchMergeID:    j.BranchMergeID,
		JobType:          string(j.JobType),
		Status:           string(j.Status),
		ConflictSnapshot: j.ConflictSnapshot,
		SubmitGatePassed: j.SubmitGatePassed,
		Logs:             j.Logs,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return resp
}

// CreateMergeHandler handles POST /projects/{projectId}/merges.
func CreateMergeHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			SourceBranchID      string `json:"sourceBranchId"`
			TargetBranchID      string `json:"targetBranchId"`
			Notes               string `json:"notes"`
			WithConflictStaging bool   `json:"withConflictStaging"`
			WithSubmitGate      bool   `json:"withSubmitGate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.SourceBranchID == "" || body.TargetBranchID == "" {
			writeError(w, http.StatusBadRequest, "sourceBranchId and targetBranchId are required")
			return
		}

		merge, err := store.Create(id.UserID, CreateParams{
			ProjectID:           projectID,
			SourceBranchID:      body.SourceBranchID,
			TargetBranchID:      body.TargetBranchID,
			Notes:               body.Notes,
			WithConflictStaging: body.WithConflictStaging,
			WithSubmitGate:      body.WithSubmitGate,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMergeResponse(merge))
	}
}

// ListMergesHandler handles GET /projects/{projectId}/merges.
func ListMergesHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		merges, err := store.List(projectID, models.MergeStatus(r.URL.Query().Get("status")))
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]mergeResponse, len(merges))
		for i := range merges {
			out[i] = toMergeResponse(&merges[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"merges": out})
	}
}

// GetMergeHandler handles GET /projects/{projectId}/merges/{mergeId},
// returning the merge with its conflicts and jobs.
func GetMergeHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireMember(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		merge, err := store.Get(chi.URLParam(r, "mergeId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if merge == nil || merge.ProjectID != projectID {
			writeError(w, http.StatusNotFound, "merge not found")
			return
		}

		conflicts, err := store.ListConflicts(merge.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		jobs, err := store.ListJobs(merge.ID)
		if err != nil {
			writeErr(w, err)
			return
		}

		conflictsOut := make([]conflictResponse, len(conflicts))
		for i := range conflicts {
			conflictsOut[i] = toConflictResponse(&conflicts[i])
		}
		jobsOut := make([]jobResponse, len(jobs))
		for i := range jobs {
			jobsOut[i] = toJobResponse(&jobs[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"merge":     toMergeResponse(merge),
			"conflicts": conflictsOut,
			"jobs":      jobsOut,
		})
	}
}

// mergeInProject confirms the routed merge belongs to the routed project,
// so a role held in one project cannot reach into another. The project of
// a merge never changes, making the pre-check safe outside the mutation's
// transaction.
func mergeInProject(store *Store, projectID, mergeID string) error {
	merge, err := store.Get(mergeID)
	if err != nil {
		return err
	}
	if merge == nil || merge.ProjectID != projectID {
		return errs.NotFound.New("merge %s not found", mergeID)
	}
	return nil
}

// conflictInMerge confirms the routed conflict belongs to the routed merge.
func conflictInMerge(store *Store, mergeID, conflictID string) error {
	conflict, err := store.GetConflict(conflictID)
	if err != nil {
		return err
	}
	if conflict == nil || conflict.BranchMergeID != mergeID {
		return errs.NotFound.New("conflict %s not found", conflictID)
	}
	return nil
}

// jobInMerge confirms the routed job belongs to the routed merge.
func jobInMerge(store *Store, mergeID, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil || job.BranchMergeID != mergeID {
		return errs.NotFound.New("merge job %s not found", jobID)
	}
	return nil
}

// mergeActionHandler builds a handler for the explicit merge transitions.
func mergeActionHandler(store *Store, enforcer *authz.Enforcer,
	fn func(actor, id string) (*models.BranchMerge, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}
		if err := mergeInProject(store, projectID, chi.URLParam(r, "mergeId")); err != nil {
			writeErr(w, err)
			return
		}

		merge, err := fn(id.UserID, chi.URLParam(r, "mergeId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toMergeResponse(merge))
	}
}

// RecordConflictHandler handles POST /projects/{projectId}/merges/{mergeId}/conflicts.
func RecordConflictHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}
		if err := mergeInProject(store, projectID, chi.URLParam(r, "mergeId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			AssetID        *string `json:"assetId"`
			AssetVersionID *string `json:"assetVersionId"`
			Description    string  `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		conflict, err := store.RecordConflict(id.UserID, chi.URLParam(r, "mergeId"), ConflictParams{
			AssetID:        body.AssetID,
			AssetVersionID: body.AssetVersionID,
			Description:    body.Description,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toConflictResponse(conflict))
	}
}

// ResolveConflictHandler handles POST /projects/{projectId}/merges/{mergeId}/conflicts/{conflictId}/resolve.
func ResolveConflictHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		mergeID := chi.URLParam(r, "mergeId")
		if err := mergeInProject(store, projectID, mergeID); err != nil {
			writeErr(w, err)
			return
		}
		if err := conflictInMerge(store, mergeID, chi.URLParam(r, "conflictId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Resolution string `json:"resolution"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		conflict, err := store.ResolveConflict(id.UserID, chi.URLParam(r, "conflictId"), body.Resolution)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConflictResponse(conflict))
	}
}

// UnresolveConflictHandler handles POST /projects/{projectId}/merges/{mergeId}/conflicts/{conflictId}/unresolve.
func UnresolveConflictHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		mergeID := chi.URLParam(r, "mergeId")
		if err := mergeInProject(store, projectID, mergeID); err != nil {
			writeErr(w, err)
			return
		}
		if err := conflictInMerge(store, mergeID, chi.URLParam(r, "conflictId")); err != nil {
			writeErr(w, err)
			return
		}

		conflict, err := store.UnresolveConflict(id.UserID, chi.URLParam(r, "conflictId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConflictResponse(conflict))
	}
}

// EnqueueJobHandler handles POST /projects/{projectId}/merges/{mergeId}/jobs.
func EnqueueJobHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		if err := mergeInProject(store, projectID, chi.URLParam(r, "mergeId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			JobType string `json:"jobType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		job, err := store.EnqueueJob(id.UserID, chi.URLParam(r, "mergeId"),
			models.MergeJobType(body.JobType))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toJobResponse(job))
	}
}

// UpdateJobHandler handles PATCH /projects/{projectId}/merges/{mergeId}/jobs/{jobId}.
func UpdateJobHandler(store *Store, enforcer *authz.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		id, _ := identity.FromContext(r.Context())
		if err := enforcer.RequireBranchManager(id, projectID); err != nil {
			writeErr(w, err)
			return
		}

		mergeID := chi.URLParam(r, "mergeId")
		if err := mergeInProject(store, projectID, mergeID); err != nil {
			writeErr(w, err)
			return
		}
		if err := jobInMerge(store, mergeID, chi.URLParam(r, "jobId")); err != nil {
			writeErr(w, err)
			return
		}

		var body struct {
			Status           *string        `json:"status"`
			AppendLog        string         `json:"appendLog"`
			SubmitGatePassed *bool          `json:"submitGatePassed"`
			ConflictSnapshot map[string]any `json:"conflictSnapshot"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		update := JobUpdate{
			AppendLog:        body.AppendLog,
			SubmitGatePassed: body.SubmitGatePassed,
			ConflictSnapshot: body.ConflictSnapshot,
		}
		if body.Status != nil {
			status := models.MergeJobStatus(*body.Status)
			update.Status = &status
		}

		job, err := store.UpdateJob(id.UserID, chi.URLParam(r, "jobId"), update)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

// Router creates a chi.Router for the merge API, mounted under
// /projects/{projectId}/merges.
func Router(store *Store, enforcer *authz.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/", CreateMergeHandler(store, enforcer))
	r.Get("/", ListMergesHandler(store, enforcer))
	r.Get("/{mergeId}", GetMergeHandler(store, enforcer))
	r.Post("/{mergeId}/cancel", mergeActionHandler(store, enforcer, store.Cancel))
	r.Post("/{mergeId}/reopen", mergeActionHandler(store, enforcer, store.Reopen))
	r.Post("/{mergeId}/complete", mergeActionHandler(store, enforcer, store.Complete))
	r.Post("/{mergeId}/conflicts", RecordConflictHandler(store, enforcer))
	r.Post("/{mergeId}/conflicts/{conflictId}/resolve", ResolveConflictHandler(store, enforcer))
	r.Post("/{mergeId}/conflicts/{conflictId}/unresolve", UnresolveConflictHandler(store, enforcer))
	r.Post("/{mergeId}/jobs", EnqueueJobHandler(store, enforcer))
	r.Patch("/{mergeId}/jobs/{jobId}", UpdateJobHandler(store, enforcer))
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
