package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS applies the cross-origin policy: the configured origins, GET, POST
// and OPTIONS, any request header and no credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})
	return c.Handler
}
