// Package auth guards the API with an optional shared bearer token. The
// engine is built for single-user deployments, so there are no user
// identities; the token only keeps strangers on the same network out.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireToken returns middleware that rejects requests whose Authorization
// header does not carry the expected bearer token. WebSocket clients cannot
// set headers from the browser, so the token is also accepted as an
// access_token query parameter.
func RequireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := bearerToken(r)
		if presented == "" {
			presented = r.URL.Query().Get("access_token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive per RFC 7235.
func bearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}
