package domain

import "time"

// State is the verification stage of a user, derived from persisted flags and
// pending secrets. It is never stored.
type State string

const (
	StateUnverified     State = "unverified"
	StateEmailPending   State = "email_pending"
	StateEmailVerified  State = "email_verified"
	StateMobilePending  State = "mobile_pending"
	StateDetailsPending State = "details_pending"
	StateFullyVerified  State = "fully_verified"
)

// DeriveState computes the stage of u. Earlier stages take precedence, so a
// user whose email is unverified is never past the email stage regardless of
// the other flags.
func DeriveState(u *User) State {
	v := u.Verification
	switch {
	case !v.Email && u.HasEmailCode():
		return StateEmailPending
	case !v.Email:
		return StateUnverified
	case !v.Mobile && u.HasMobileCode():
		return StateMobilePending
	case !v.Mobile:
		return StateEmailVerified
	case !v.Details:
		return StateDetailsPending
	default:
		return StateFullyVerified
	}
}

// Snapshot is the uniform verification view returned by every verify outcome.
type Snapshot struct {
	State             State `json:"state"`
	FullyVerified     bool  `json:"fullyVerified"`
	EmailVerified     bool  `json:"emailVerified"`
	EmailCodePresent  bool  `json:"emailCodePresent"`
	EmailCodeExpired  bool  `json:"emailCodeExpired"`
	MobileVerified    bool  `json:"mobileVerified"`
	MobileCodePresent bool  `json:"mobileCodePresent"`
	DetailsVerified   bool  `json:"detailsVerified"`
}

// SnapshotOf builds the verification snapshot of u at now.
func SnapshotOf(u *User, now time.Time) Snapshot {
	return Snapshot{
		State:             DeriveState(u),
		FullyVerified:     u.FullyVerified(),
		EmailVerified:     u.Verification.Email,
		EmailCodePresent:  u.HasEmailCode(),
		EmailCodeExpired:  u.EmailCodeExpired(now),
		MobileVerified:    u.Verification.Mobile,
		MobileCodePresent: u.HasMobileCode(),
		DetailsVerified:   u.Verification.Details,
	}
}
