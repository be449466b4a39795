package identity

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware returns HTTP middleware that resolves the acting identity for
// the request. A Bearer token is verified against cfg; without one the
// X-Remote-User / X-Remote-Role headers are honored (trusted-proxy or dev
// mode). Requests with neither proceed anonymously; authorization decides
// what anonymous callers may do.
func Middleware(cfg *TokenConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r); raw != "" {
				id, err := ParseToken(cfg, raw)
				if err != nil {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error":   "unauthorized",
						"message": err.Error(),
					})
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}

			user := strings.TrimSpace(r.Header.Get("X-Remote-User"))
			if user != "" {
				id := Identity{
					UserID:   user,
					Username: user,
					Role:     strings.TrimSpace(r.Header.Get("X-Remote-Role")),
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireIdentity rejects requests that did not resolve an identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "unauthorized",
				"message": "authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
