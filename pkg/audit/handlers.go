package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/assetdepot/depot/pkg/depot/errs"
	"github.com/assetdepot/depot/pkg/depot/models"
	"github.com/assetdepot/depot/pkg/identity"
)

// AdminGate decides whether an identity may read the audit log. The
// enforcer in pkg/authz satisfies it; depending on the interface instead
// keeps this package importable from the packages the enforcer records.
type AdminGate interface {
	RequireAdmin(id identity.Identity) error
}

// recordResponse is the API shape for one audit record.
type recordResponse struct {
	ID        string         `json:"id"`
	Table     string         `json:"table"`
	Operation string         `json:"operation"`
	EntityID  string         `json:"entityId,omitempty"`
	Actor     string         `json:"actor"`
	OldValue  map[string]any `json:"oldValue,omitempty"`
	NewValue  map[string]any `json:"newValue,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func toResponse(r *models.AuditRecord) recordResponse {
	return recordResponse{
		ID:        r.ID,
		Table:     r.Table,
		Operation: r.Operation,
		EntityID:  r.EntityID,
		Actor:     r.Actor,
		OldValue:  r.OldValue,
		NewValue:  r.NewValue,
		CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
	}
}

// ListRecordsHandler handles GET /audit/records. Admin only.
func ListRecordsHandler(store *Store, gate AdminGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identity.FromContext(r.Context())
		if err := gate.RequireAdmin(id); err != nil {
			writeErr(w, err)
			return
		}

		filter := ListFilter{
			Table:    r.URL.Query().Get("table"),
			Actor:    r.URL.Query().Get("actor"),
			EntityID: r.URL.Query().Get("entityId"),
		}
		pageSize := 50
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		records, nextToken, err := store.List(filter, pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			writeErr(w, err)
			return
		}

		out := make([]recordResponse, len(records))
		for i := range records {
			out[i] = toResponse(&records[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"records":       out,
			"nextPageToken": nextToken,
		})
	}
}

// GetRecordHandler handles GET /audit/records/{recordId}. Admin only.
func GetRecordHandler(store *Store, gate AdminGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identity.FromContext(r.Context())
		if err := gate.RequireAdmin(id); err != nil {
			writeErr(w, err)
			return
		}

		record, err := store.Get(chi.URLParam(r, "recordId"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, "audit record not found")
			return
		}
		writeJSON(w, http.StatusOK, toResponse(record))
	}
}

// Router creates a chi.Router for the audit read API.
func Router(store *Store, gate AdminGate) chi.Router {
	r := chi.NewRouter()
	r.Get("/records", ListRecordsHandler(store, gate))
	r.Get("/records/{recordId}", GetRecordHandler(store, gate))
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
