package auth

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"economybot/internal/logger"
)

// HeaderName carries the API token on reporting requests
const HeaderName = "X-Api-Token"

// Middleware returns an HTTP middleware that requires the configured
// API token on /api/ routes. Static and health-check routes pass
// through. An empty configured token disables the API entirely rather
// than leaving it open.
func Middleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/api/ping" {
			next.ServeHTTP(w, r)
			return
		}

		if token == "" {
			http.Error(w, "Forbidden: API disabled", http.StatusForbidden)
			return
		}

		got := r.Header.Get(HeaderName)
		if got == "" {
			http.Error(w, "Unauthorized: missing "+HeaderName+" header", http.StatusUnauthorized)
			return
		}
		if !hmac.Equal([]byte(got), []byte(token)) {
			logger.Warn("auth failed", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
