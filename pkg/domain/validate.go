package domain

import (
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("district", func(fl validator.FieldLevel) bool {
		return IsDistrict(fl.Field().String())
	})
	return v
}

// IsDistrict returns true if name is one of Districts.
func IsDistrict(name string) bool {
	for _, d := range Districts {
		if d == name {
			return true
		}
	}
	return false
}

type fieldRule struct {
	field string
	value string
	tag   string
	msg   string
}

// Validate checks the persisted profile fields of u.
func (u *User) Validate() error {
	rules := []fieldRule{
		{"email", u.Email, "required,email,max=254", "please provide a valid email"},
		{"firstName", u.FirstName, "required,max=100", "please tell us your first name"},
		{"lastName", u.LastName, "required,max=100", "please tell us your last name"},
		{"type", string(u.Type), "required,oneof=client talent", "type must be client or talent"},
		{"profile", string(u.Profile), "omitempty,oneof=project individual", "profile must be project or individual"},
		{"mobile", u.Mobile, "omitempty,e164", "mobile must be in international format"},
		{"gender", u.Gender, "omitempty,max=20", "gender is too long"},
		{"address.street", u.Address.Street, "omitempty,max=100", "street is too long"},
		{"address.city", u.Address.City, "omitempty,max=100", "city is too long"},
		{"address.district", u.Address.District, "omitempty,district", "district is not a valid district"},
	}

	verr := &ValidationError{}
	for _, r := range rules {
		if err := validate.Var(r.value, r.tag); err != nil {
			verr.Add(r.field, r.msg)
		}
	}
	if u.Profile != "" && u.Type != UserTypeTalent {
		verr.Add("profile", "client users cannot change profile")
	}

	if verr.Empty() {
		return nil
	}
	return verr
}
