package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/musa-idm/pkg/domain"
)

// ErrorResponse is the envelope of every failed request. Status is "fail"
// for client errors and "error" for server errors.
type ErrorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error writes an error envelope with message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Status: statusWord(status), Message: message})
}

// errorStatuses maps domain errors to responses. The first match wins.
var errorStatuses = []struct {
	err    error
	status int
}{
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrTokenInvalidOrExpired, http.StatusBadRequest},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized},
	{domain.ErrStaleSession, http.StatusUnauthorized},
	{domain.ErrTokenExpired, http.StatusUnauthorized},
	{domain.ErrUnauthenticated, http.StatusUnauthorized},
	{domain.ErrInvalidCurrentPassword, http.StatusUnauthorized},
	{domain.ErrUserNotFound, http.StatusNotFound},
	{domain.ErrVerificationFailed, http.StatusNotFound},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrNotificationFailure, http.StatusInternalServerError},
}

// WriteError maps err to a status code and writes its envelope. Unknown
// errors are logged and answered with a generic 500 so internals never
// reach the client.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		JSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "fail",
			Message: verr.Error(),
			Details: verr.Details,
		})
		return
	}

	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError && logger != nil {
				logger.Error("request failed", "error", err)
			}
			Error(w, e.status, e.err.Error())
			return
		}
	}

	if logger != nil {
		logger.Error("internal error", "error", err)
	}
	Error(w, http.StatusInternalServerError, "something went wrong")
}

// StatusFor returns the status WriteError would use for err.
func StatusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// DecodeJSON reads the request body into v. A malformed body returns a
// *domain.ValidationError.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.NewValidationError("payload", "request body too large")
		}
		return domain.NewValidationError("payload", "invalid json")
	}
	return nil
}

func statusWord(status int) string {
	if status >= http.StatusInternalServerError {
		return "error"
	}
	return "fail"
}
