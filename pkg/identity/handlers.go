package identity

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// LoginHandler handles POST /auth/token. It exchanges username/password
// credentials for a signed access token.
func LoginHandler(store *UserStore, cfg *TokenConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, err := store.Authenticate(req.Username, req.Password)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := IssueToken(cfg, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": token,
			"token_type":   "bearer",
		})
	}
}

// Router creates a chi.Router for the auth API.
func Router(store *UserStore, cfg *TokenConfig) chi.Router {
	r := chi.NewRouter()
	r.Post("/token", LoginHandler(store, cfg))
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
