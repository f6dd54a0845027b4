package middleware

import (
	"net/http"

	"github.com/tendant/musa-idm/internal/httputil"
)

// RequireFullyVerified creates middleware that only lets fully verified
// users through. Must be used after Auth middleware.
func RequireFullyVerified() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !user.FullyVerified() {
				httputil.Error(w, http.StatusForbidden, "please complete account verification first")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
