package me

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/musa-idm/internal/http/middleware"
	"github.com/tendant/musa-idm/internal/httputil"
	"github.com/tendant/musa-idm/pkg/auth"
	"github.com/tendant/musa-idm/pkg/domain"
)

// Handler handles user profile endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *auth.Service
	cookieConfig httputil.CookieConfig
	now          func() time.Time
}

// NewHandler creates a new me handler.
func NewHandler(logger *slog.Logger, service *auth.Service, cookieConfig httputil.CookieConfig) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		cookieConfig: cookieConfig,
		now:          time.Now,
	}
}

// Response is the profile view of the current user.
type Response struct {
	Status string `json:"status"`
	Data   Data   `json:"data"`
}

// Data carries the user and its verification snapshot.
type Data struct {
	User         domain.PublicUser `json:"user"`
	Verification domain.Snapshot   `json:"verification"`
}

// GetMe returns the current user's profile.
// GET /me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	res, err := h.service.Status(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, Response{
		Status: "success",
		Data: Data{
			User:         res.User.Public(),
			Verification: res.Snapshot,
		},
	})
}

// DeleteMe deactivates the current user and clears the session cookie.
// DELETE /me
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	if err := h.service.Deactivate(r.Context(), userID); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearSessionCookie(w, h.cookieConfig, h.now())
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateAvailability marks one day as available or not for the current talent.
// PATCH /me/availability
func (h *Handler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	var in auth.AvailabilityInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	user, err := h.service.UpdateAvailability(r.Context(), userID, in)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]any{"availability": user.Availability},
	})
}

// TalentsResponse lists talents.
type TalentsResponse struct {
	Status  string              `json:"status"`
	Results int                 `json:"results"`
	Data    []domain.PublicUser `json:"data"`
}

// AvailableTalents lists the talents available on the day query parameter.
// GET /talents/available?day=YYYY-MM-DD
func (h *Handler) AvailableTalents(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	users, err := h.service.FindAvailableTalents(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	out := make([]domain.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	httputil.JSON(w, http.StatusOK, TalentsResponse{Status: "success", Results: len(out), Data: out})
}
