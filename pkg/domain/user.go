package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// UserType distinguishes the two sides of the marketplace.
type UserType string

const (
	UserTypeClient UserType = "client"
	UserTypeTalent UserType = "talent"
)

// ProfileKind is only meaningful for talents.
type ProfileKind string

const (
	ProfileProject    ProfileKind = "project"
	ProfileIndividual ProfileKind = "individual"
)

// Districts lists the accepted values for Address.District.
var Districts = []string{
	"Aveiro",
	"Beja",
	"Braga",
	"Bragança",
	"Castelo Branco",
	"Coimbra",
	"Évora",
	"Faro",
	"Guarda",
	"Leiria",
	"Lisboa",
	"Portalegre",
	"Porto",
	"Santarém",
	"Setúbal",
	"Viana do Castelo",
	"Vila Real",
	"Viseu",
}

// Address is filled in during the details verification stage.
type Address struct {
	Street       string `json:"street,omitempty"`
	StreetNumber string `json:"streetNumber,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	City         string `json:"city,omitempty"`
	District     string `json:"district,omitempty"`
	State        string `json:"state,omitempty"`
}

// Verification holds the independent per-stage flags.
// CC and VAT are carried for compatibility and never set by the verify flow.
type Verification struct {
	Email   bool `json:"emailVerified"`
	Mobile  bool `json:"mobileVerified"`
	Details bool `json:"detailsVerified"`
	CC      bool `json:"ccVerified"`
	VAT     bool `json:"vatVerified"`
}

// DayLayout is the format of DayAvailability.Day.
const DayLayout = "2006-01-02"

// DayAvailability records whether a talent can work on Day.
type DayAvailability struct {
	Day       string `json:"day"`
	Available bool   `json:"available"`
}

// User represents the account.
type User struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string
	Mobile    string
	Type      UserType
	Profile   ProfileKind
	BirthDate *time.Time
	Gender    string
	Address   Address

	// Availability is sorted by day and only written through the repository's
	// availability operation.
	Availability []DayAvailability

	Verification Verification

	// Credential. Only populated when loaded with credentials.
	PasswordHash      string
	PasswordChangedAt *time.Time

	// One-time secrets. Empty string means absent.
	EmailVerificationCode     string
	EmailVerificationExpires  *time.Time
	MobileVerificationCode    string
	MobileVerificationExpires *time.Time
	PasswordResetTokenHash    string
	PasswordResetExpires      *time.Time

	Active    bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullyVerified is derived from the stage flags and never stored.
func (u *User) FullyVerified() bool {
	return u.Verification.Email && u.Verification.Mobile && u.Verification.Details
}

// HasEmailCode returns true if an email verification code is pending.
func (u *User) HasEmailCode() bool {
	return u.EmailVerificationCode != ""
}

// HasMobileCode returns true if a mobile verification code is pending.
func (u *User) HasMobileCode() bool {
	return u.MobileVerificationCode != ""
}

// EmailCodeExpired reports whether the pending email code is past its expiry.
func (u *User) EmailCodeExpired(now time.Time) bool {
	return u.HasEmailCode() && !before(now, u.EmailVerificationExpires)
}

// MobileCodeExpired reports whether the pending mobile code is past its expiry.
func (u *User) MobileCodeExpired(now time.Time) bool {
	return u.HasMobileCode() && !before(now, u.MobileVerificationExpires)
}

// ClearEmailCode removes the email secret.
func (u *User) ClearEmailCode() {
	u.EmailVerificationCode = ""
	u.EmailVerificationExpires = nil
}

// ClearMobileCode removes the mobile secret.
func (u *User) ClearMobileCode() {
	u.MobileVerificationCode = ""
	u.MobileVerificationExpires = nil
}

// ClearPasswordReset removes the reset secret.
func (u *User) ClearPasswordReset() {
	u.PasswordResetTokenHash = ""
	u.PasswordResetExpires = nil
}

// PasswordChangedAfter reports whether the password was changed after a token
// issued at issuedAt. Comparison is at millisecond precision.
func (u *User) PasswordChangedAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.UnixMilli() < u.PasswordChangedAt.UnixMilli()
}

// AvailableOn reports whether the user marked day as available.
func (u *User) AvailableOn(day string) bool {
	for _, a := range u.Availability {
		if a.Day == day {
			return a.Available
		}
	}
	return false
}

// SetAvailability records available for day, keeping Availability sorted.
func (u *User) SetAvailability(day string, available bool) {
	i := sort.Search(len(u.Availability), func(i int) bool { return u.Availability[i].Day >= day })
	if i < len(u.Availability) && u.Availability[i].Day == day {
		u.Availability[i].Available = available
		return
	}
	u.Availability = append(u.Availability, DayAvailability{})
	copy(u.Availability[i+1:], u.Availability[i:])
	u.Availability[i] = DayAvailability{Day: day, Available: available}
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// before reports now < t, treating a nil t as already passed.
func before(now time.Time, t *time.Time) bool {
	return t != nil && now.Before(*t)
}

// PublicUser is the serializable view of a User. It never carries secrets.
type PublicUser struct {
	ID            uuid.UUID         `json:"id"`
	Email         string            `json:"email"`
	FirstName     string            `json:"firstName"`
	LastName      string            `json:"lastName"`
	Mobile        string            `json:"mobile,omitempty"`
	Type          UserType          `json:"type"`
	Profile       ProfileKind       `json:"profile,omitempty"`
	BirthDate     *time.Time        `json:"birthDate,omitempty"`
	Gender        string            `json:"gender,omitempty"`
	Address       Address           `json:"address"`
	Availability  []DayAvailability `json:"availability,omitempty"`
	Verification  Verification      `json:"verification"`
	FullyVerified bool              `json:"fullyVerified"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Public strips credential and secret fields.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Mobile:        u.Mobile,
		Type:          u.Type,
		Profile:       u.Profile,
		BirthDate:     u.BirthDate,
		Gender:        u.Gender,
		Address:       u.Address,
		Availability:  u.Availability,
		Verification:  u.Verification,
		FullyVerified: u.FullyVerified(),
		CreatedAt:     u.CreatedAt,
	}
}
