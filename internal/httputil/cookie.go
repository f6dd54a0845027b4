package httputil

import (
	"net/http"
	"strings"
	"time"

	"github.com/tendant/musa-idm/pkg/domain"
)

const (
	// SessionCookieName carries the session token for browser clients.
	SessionCookieName = "jwt"

	loggedOutValue = "loggedout"
	logoutTTL      = 10 * time.Second
)

// CookieConfig holds cookie configuration.
type CookieConfig struct {
	Name       string
	Domain     string
	Path       string
	Secure     bool // only in production
	SameSite   http.SameSite
	ExpireDays int
}

// DefaultCookieConfig returns default cookie configuration.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:       SessionCookieName,
		Path:       "/",
		SameSite:   http.SameSiteLaxMode,
		ExpireDays: 90,
	}
}

// TokenResponse is the body of every response that delivers a session token.
type TokenResponse struct {
	Status string       `json:"status"`
	Token  string       `json:"token"`
	Data   TokenPayload `json:"data"`
}

// TokenPayload wraps the user in a token response.
type TokenPayload struct {
	User domain.PublicUser `json:"user"`
}

// SendToken delivers token as an HttpOnly cookie and in the JSON body along
// with the public view of user. Mobile clients only get the body.
func SendToken(w http.ResponseWriter, r *http.Request, status int, token string, user *domain.User, cfg CookieConfig, now time.Time) {
	if !IsMobileClient(r) {
		http.SetCookie(w, &http.Cookie{
			Name:     cfg.Name,
			Value:    token,
			Path:     cfg.Path,
			Domain:   cfg.Domain,
			Expires:  now.Add(time.Duration(cfg.ExpireDays) * 24 * time.Hour),
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: cfg.SameSite,
		})
	}
	JSON(w, status, TokenResponse{
		Status: "success",
		Token:  token,
		Data:   TokenPayload{User: user.Public()},
	})
}

// ClearSessionCookie overwrites the session cookie with a placeholder that
// expires shortly. Tokens held elsewhere stay valid until they expire.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    loggedOutValue,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  now.Add(logoutTTL),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// TokenFromRequest extracts a session token from the Authorization header,
// falling back to the session cookie. The header wins when both are present.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), true
		}
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" || cookie.Value == loggedOutValue {
		return "", false
	}
	return cookie.Value, true
}

// IsMobileClient checks if request is from a mobile client.
// Mobile clients should set header: X-Client-Type: mobile
func IsMobileClient(r *http.Request) bool {
	return r.Header.Get("X-Client-Type") == "mobile"
}
