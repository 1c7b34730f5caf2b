package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Middleware gates every request behind a bearer token check against the
// store. Unknown or missing tokens are rejected before the request reaches
// the MCP handler.
func Middleware(store *Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			log.Warnf("missing or invalid auth header for %s %s", r.Method, r.URL.Path)
			writeAuthError(w, "Missing or invalid Authorization header")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if !store.Validate(token) {
			log.Warnf("invalid token attempt from %s", r.RemoteAddr)
			writeAuthError(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
