package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"
)

// APIKeyAuth protects every route except GET / with a bearer API key. With an
// empty key authentication is disabled.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeDetail(w, http.StatusUnauthorized, "Authorization header is required")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeDetail(w, http.StatusUnauthorized, "Invalid Authorization header format. Expected 'Bearer <api_key>'")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiKey)) != 1 {
				hlog.FromRequest(r).Warn().Msg("Rejected request with an invalid API key")
				writeDetail(w, http.StatusUnauthorized, "Invalid API Key")
				return
			}

			// API key is valid, proceed to the next handler.
			next.ServeHTTP(w, r)
		})
	}
}
