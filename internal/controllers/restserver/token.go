package restserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// SessionCookie holds the access token once a browser went through /start.
const SessionCookie = "provami_session"

// generateAuthToken returns a standard UUID string with hyphens.
func generateAuthToken() string {
	return uuid.New().String()
}

func (c *Controller) validToken(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.token)) == 1
}

// authMiddleware validates the bearer token or session cookie
func (c *Controller) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && c.validToken(bearer) {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(SessionCookie); err == nil && c.validToken(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}

		c.logger.Debugf("auth failed for %s", r.URL.Path)
		c.handlers.writeError(w, r, http.StatusUnauthorized, "authentication required")
	})
}
