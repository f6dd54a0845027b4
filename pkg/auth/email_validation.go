package auth

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tendant/musa-idm/pkg/domain"
)

// Common disposable email domains to block.
var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
}

const maxEmailLength = 254 // RFC 5321

var emailCheck = validator.New()

// ValidateEmail checks the format and length of email and, when
// blockDisposable is set, rejects throwaway domains.
func ValidateEmail(email string, blockDisposable bool) error {
	normalized := NormalizeEmail(email)
	switch {
	case normalized == "":
		return domain.NewValidationError("email", "please provide your email")
	case len(normalized) > maxEmailLength:
		return domain.NewValidationError("email", "email address is too long")
	case emailCheck.Var(normalized, "email") != nil:
		return domain.NewValidationError("email", "please provide a valid email")
	case blockDisposable && disposableDomains[emailDomain(normalized)]:
		return domain.NewValidationError("email", "disposable email addresses are not allowed")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailDomain(email string) string {
	_, host, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return host
}
