package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/musa-idm/internal/httputil"
	"github.com/tendant/musa-idm/pkg/domain"
)

type contextKey string

// UserKey is the context key for the authenticated user.
const UserKey contextKey = "user"

// Authenticator resolves a session token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Auth creates middleware that requires a valid session token.
// The Authorization header is checked first, then the session cookie.
func Auth(authenticator Authenticator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := httputil.TokenFromRequest(r, cookieName)
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
				return
			}

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				httputil.WriteError(w, nil, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser extracts the authenticated user from the request context.
func GetUser(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(UserKey).(*domain.User)
	return user, ok && user != nil
}

// GetUserID extracts the authenticated user's ID from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	user, ok := GetUser(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return user.ID, true
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}
