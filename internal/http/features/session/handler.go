package session

import (
	"net/http"
	"time"

	"github.com/tendant/musa-idm/internal/httputil"
)

// Handler handles session lifecycle endpoints.
type Handler struct {
	cookieConfig httputil.CookieConfig
	now          func() time.Time
}

// NewHandler creates a new session handler.
func NewHandler(cookieConfig httputil.CookieConfig) *Handler {
	return &Handler{
		cookieConfig: cookieConfig,
		now:          time.Now,
	}
}

// Logout replaces the session cookie with a short-lived placeholder.
// GET /logout
//
// Tokens are stateless, so a bearer token held by a mobile client stays
// valid until it expires.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	httputil.ClearSessionCookie(w, h.cookieConfig, h.now())
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "success"})
}
