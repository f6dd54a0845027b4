package domain

import (
	"errors"
	"sort"
	"strings"
)

// Authentication errors
var (
	ErrInvalidCredentials     = errors.New("incorrect email or password")
	ErrUnauthenticated        = errors.New("you are not logged in")
	ErrStaleSession           = errors.New("password recently changed, please log in again")
	ErrInvalidCurrentPassword = errors.New("your current password is wrong")
	ErrTokenInvalid           = errors.New("invalid token")
	ErrTokenExpired           = errors.New("token expired")
)

// Account errors
var (
	ErrUserNotFound      = errors.New("there is no user with that email address")
	ErrUserAlreadyExists = errors.New("an account with that email already exists")
	ErrConflict          = errors.New("user was modified concurrently")
)

// Verification and reset errors
var (
	ErrTokenInvalidOrExpired = errors.New("token is invalid or has expired")
	ErrVerificationFailed    = errors.New("invalid or expired verification code")
	ErrNotificationFailure   = errors.New("there was an error sending the message, try again later")
)

// Validation errors
var (
	ErrValidation       = errors.New("invalid input data")
	ErrInvalidEmail     = errors.New("please provide a valid email")
	ErrWeakPassword     = errors.New("password does not meet requirements")
	ErrPasswordMismatch = errors.New("passwords are not the same")
)

// ValidationError reports one or more invalid fields.
// It matches ErrValidation with errors.Is, and Cause when one is set.
type ValidationError struct {
	Details map[string]string
	Cause   error
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Details: map[string]string{field: msg}}
}

// Add records another invalid field.
func (e *ValidationError) Add(field, msg string) {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[field] = msg
}

// Empty reports whether no field has been recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Details) == 0
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(e.Details))
	for f := range e.Details {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e.Details[f])
	}
	return ErrValidation.Error() + ". " + strings.Join(parts, ". ")
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Cause}
}

// FieldError reports a single invalid field caused by err. The field
// message is err's text.
func FieldError(field string, err error) *ValidationError {
	return &ValidationError{Details: map[string]string{field: err.Error()}, Cause: err}
}
