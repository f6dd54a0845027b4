package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tendant/musa-idm/internal/config"
	"github.com/tendant/musa-idm/pkg/domain"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// NewPasswordPolicy creates a PasswordPolicy from config.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        cfg.MinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
	}
}

// Check validates password for the named input field and returns a
// *domain.ValidationError describing the first unmet requirement.
func (p *PasswordPolicy) Check(field, password string) error {
	if msg := p.violation(password); msg != "" {
		return domain.NewValidationError(field, msg)
	}
	return nil
}

func (p *PasswordPolicy) violation(password string) string {
	switch {
	case p.MinLength > 0 && len(password) < p.MinLength:
		return fmt.Sprintf("password must be at least %d characters long", p.MinLength)
	case len(password) > maxPasswordBytes:
		return fmt.Sprintf("password must be at most %d bytes long", maxPasswordBytes)
	case p.RequireUppercase && !containsRune(password, unicode.IsUpper):
		return "password must contain at least one uppercase letter"
	case p.RequireLowercase && !containsRune(password, unicode.IsLower):
		return "password must contain at least one lowercase letter"
	case p.RequireNumber && !containsRune(password, unicode.IsDigit):
		return "password must contain at least one number"
	case p.RequireSpecial && !containsRune(password, isSpecial):
		return "password must contain at least one special character"
	}
	return ""
}

// Requirements returns a human-readable description of the policy.
func (p *PasswordPolicy) Requirements() string {
	var requirements []string
	if p.MinLength > 0 {
		requirements = append(requirements, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUppercase {
		requirements = append(requirements, "one uppercase letter")
	}
	if p.RequireLowercase {
		requirements = append(requirements, "one lowercase letter")
	}
	if p.RequireNumber {
		requirements = append(requirements, "one number")
	}
	if p.RequireSpecial {
		requirements = append(requirements, "one special character")
	}
	if len(requirements) == 0 {
		return "No password requirements"
	}
	return "Password must contain " + strings.Join(requirements, ", ")
}

func containsRune(s string, pred func(rune) bool) bool {
	return strings.IndexFunc(s, pred) >= 0
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}
