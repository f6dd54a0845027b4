package password

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/musa-idm/internal/http/middleware"
	"github.com/tendant/musa-idm/internal/httputil"
	"github.com/tendant/musa-idm/pkg/auth"
)

const resetSentMessage = "URL to reset password sent to email"

// Handler handles password authentication endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *auth.Service
	cookieConfig httputil.CookieConfig
	now          func() time.Time
}

// NewHandler creates a new password handler.
func NewHandler(logger *slog.Logger, service *auth.Service, cookieConfig httputil.CookieConfig) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		cookieConfig: cookieConfig,
		now:          time.Now,
	}
}

// ForgotPasswordRequest represents a forgot-password request.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// Signup handles user registration.
// POST /signup
//
// Web clients get the token as an HttpOnly cookie and in the body.
// Mobile clients (X-Client-Type: mobile) only get it in the body.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.Signup(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("user signed up", "user_id", res.User.ID)
	httputil.SendToken(w, r, http.StatusCreated, res.Token, res.User, h.cookieConfig, h.now())
}

// Login handles email and password login.
// POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.Login(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.SendToken(w, r, http.StatusOK, res.Token, res.User, h.cookieConfig, h.now())
}

// ForgotPassword sends a password reset link.
// POST /forgotPassword
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": resetSentMessage,
	})
}

// ResetPassword sets a new password using a reset token and logs the user in.
// PATCH /resetPassword/{token}
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ResetPasswordInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.SendToken(w, r, http.StatusOK, res.Token, res.User, h.cookieConfig, h.now())
}

// UpdateMyPassword changes the password of the logged in user.
// PATCH /updateMyPassword
func (h *Handler) UpdateMyPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	var req auth.UpdatePasswordInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.UpdatePassword(r.Context(), userID, req)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.SendToken(w, r, http.StatusOK, res.Token, res.User, h.cookieConfig, h.now())
}
