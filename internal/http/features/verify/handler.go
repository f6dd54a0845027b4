package verify

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/musa-idm/internal/http/middleware"
	"github.com/tendant/musa-idm/internal/httputil"
	"github.com/tendant/musa-idm/pkg/auth"
	"github.com/tendant/musa-idm/pkg/domain"
)

const codeNotCorrect = "Code not correct"

var stageMessages = map[domain.State]string{
	domain.StateEmailPending:   "Email verified",
	domain.StateMobilePending:  "Mobile Verified",
	domain.StateDetailsPending: "User details verified",
}

// Handler handles the staged verification endpoints.
type Handler struct {
	logger  *slog.Logger
	service *auth.Service
}

// NewHandler creates a new verify handler.
func NewHandler(logger *slog.Logger, service *auth.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Code is a verification code sent either as a JSON string or a number.
type Code string

// UnmarshalJSON accepts "12345", 12345 and null.
func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("code must be a string or a number")
	}
	*c = Code(n.String())
	return nil
}

// Request is the verify payload. Which fields are read depends on the
// stage the user is in.
type Request struct {
	Code       Code `json:"code"`
	EmailCode  Code `json:"emailCode"`
	MobileCode Code `json:"mobileCode"`
	auth.DetailsInput
}

// Response is the body of every verify and resend outcome.
type Response struct {
	Status       string          `json:"status"`
	Message      string          `json:"message,omitempty"`
	UserVerified bool            `json:"userVerified"`
	Data         domain.Snapshot `json:"data"`
}

// Verify completes the earliest incomplete verification stage.
// POST /verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	var req Request
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, h.logger, err)
			return
		}
	}

	res, err := h.service.Verify(r.Context(), userID, auth.VerifyInput{
		Code:       string(req.Code),
		EmailCode:  string(req.EmailCode),
		MobileCode: string(req.MobileCode),
		Details:    &req.DetailsInput,
	})
	if errors.Is(err, domain.ErrVerificationFailed) && res != nil {
		httputil.JSON(w, http.StatusNotFound, Response{
			Status:       "fail",
			Message:      codeNotCorrect,
			UserVerified: res.Snapshot.FullyVerified,
			Data:         res.Snapshot,
		})
		return
	}
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, Response{
		Status:       "success",
		Message:      stageMessages[res.Stage],
		UserVerified: res.Snapshot.FullyVerified,
		Data:         res.Snapshot,
	})
}

// Resend issues and dispatches a fresh code for the current code stage.
// POST /verify/resend
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	res, err := h.service.ResendCode(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	message := ""
	switch res.Stage {
	case domain.StateUnverified, domain.StateEmailPending:
		message = "Verification code sent to email"
	case domain.StateEmailVerified, domain.StateMobilePending:
		message = "Verification code sent to mobile"
	}
	httputil.JSON(w, http.StatusOK, Response{
		Status:       "success",
		Message:      message,
		UserVerified: res.Snapshot.FullyVerified,
		Data:         res.Snapshot,
	})
}

// ChangeMobile sets the number mobile codes go to and sends a fresh code.
// PATCH /verify/mobile
func (h *Handler) ChangeMobile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "you are not logged in, please log in to get access")
		return
	}

	var in auth.MobileInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.ChangeMobile(r.Context(), userID, in)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, Response{
		Status:       "success",
		Message:      "Verification code sent to mobile",
		UserVerified: res.Snapshot.FullyVerified,
		Data:         res.Snapshot,
	})
}
