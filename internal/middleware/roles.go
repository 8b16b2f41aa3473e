package middleware

import (
	"net/http"

	"github.com/medplain/medplain/internal/httputil"
)

// RequireRole rejects requests whose authenticated role does not match.
// Used for the admin-only routes.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				httputil.Unauthorized(w, "")
				return
			}
			if GetUserRole(r.Context()) != role {
				httputil.WriteError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
