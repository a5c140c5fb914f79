package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards API routes with a shared key. Callers may present the key as
// "Authorization: Bearer <key>" or via the X-API-Key header. An empty
// configured key disables the check entirely.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := credential(r)
			if got == "" {
				deny(w, "missing credentials")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				deny(w, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
