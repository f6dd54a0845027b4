package auth

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tendant/musa-idm/pkg/domain"
)

const birthDateLayout = "2006-01-02"

// SignupInput is the signup request payload.
type SignupInput struct {
	Name            string `json:"name" validate:"required,max=200"`
	Email           string `json:"email" validate:"required"`
	Mobile          string `json:"mobile" validate:"omitempty,e164"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
	Type            string `json:"type" validate:"omitempty,oneof=client talent"`
	Profile         string `json:"profile" validate:"omitempty,oneof=project individual"`
}

// LoginInput is the login request payload.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ResetPasswordInput is the payload accompanying a reset token.
type ResetPasswordInput struct {
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// UpdatePasswordInput is the authenticated password change payload.
type UpdatePasswordInput struct {
	PasswordCurrent string `json:"passwordCurrent" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// MobileInput sets the number mobile codes are sent to.
type MobileInput struct {
	Mobile string `json:"mobile" validate:"required,e164"`
}

// AvailabilityInput marks one day as available or not for a talent.
type AvailabilityInput struct {
	Day       string `json:"day" validate:"required,datetime=2006-01-02"`
	Available *bool  `json:"available" validate:"required"`
}

type dayQuery struct {
	Day string `json:"day" validate:"required,datetime=2006-01-02"`
}

// DetailsInput is the profile details payload of the last verification
// stage. Nil fields keep their stored value.
type DetailsInput struct {
	FullName     *string `json:"fullName" validate:"omitempty,max=200"`
	BirthDate    *string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	Gender       *string `json:"gender" validate:"omitempty,max=20"`
	PostalCode   *string `json:"postalCode" validate:"omitempty,max=20"`
	Street       *string `json:"street" validate:"omitempty,max=100"`
	StreetNumber *string `json:"streetNumber" validate:"omitempty,max=20"`
	City         *string `json:"city" validate:"omitempty,max=100"`
	District     *string `json:"district" validate:"omitempty,district"`
	State        *string `json:"state" validate:"omitempty,max=100"`
}

// Empty reports whether no field was supplied.
func (d *DetailsInput) Empty() bool {
	if d == nil {
		return true
	}
	return d.FullName == nil && d.BirthDate == nil && d.Gender == nil &&
		d.PostalCode == nil && d.Street == nil && d.StreetNumber == nil &&
		d.City == nil && d.District == nil && d.State == nil
}

// apply merges the supplied fields into u. The input must be valid.
func (d *DetailsInput) apply(u *domain.User) {
	if d.FullName != nil {
		first, last := SplitFullName(*d.FullName)
		if first != "" {
			u.FirstName = first
		}
		if last != "" {
			u.LastName = last
		}
	}
	if d.BirthDate != nil {
		if t, err := time.Parse(birthDateLayout, *d.BirthDate); err == nil {
			u.BirthDate = &t
		}
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&u.Gender, d.Gender)
	set(&u.Address.PostalCode, d.PostalCode)
	set(&u.Address.Street, d.Street)
	set(&u.Address.StreetNumber, d.StreetNumber)
	set(&u.Address.City, d.City)
	set(&u.Address.District, d.District)
	set(&u.Address.State, d.State)
}

var inputs = newInputValidator()

func newInputValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("district", func(fl validator.FieldLevel) bool {
		return domain.IsDistrict(fl.Field().String())
	})
	return v
}

// validateInput runs the struct tags of in and converts failures into a
// *domain.ValidationError keyed by JSON field name.
func validateInput(in any) error {
	err := inputs.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &domain.ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "eqfield":
		return domain.ErrPasswordMismatch.Error()
	case "e164":
		return "must be a valid phone number in international format"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "max":
		return "must be at most " + fe.Param() + " characters long"
	case "datetime":
		return "must be a date formatted as YYYY-MM-DD"
	case "district":
		return "is not a valid district"
	default:
		return "is invalid"
	}
}
