package repository

// FindOptions controls which columns a lookup returns.
type FindOptions struct {
	// WithCredentials includes the password hash.
	WithCredentials bool
}

// FindOption configures a lookup.
type FindOption func(*FindOptions)

// WithCredentials includes the password hash in the loaded user.
func WithCredentials() FindOption {
	return func(o *FindOptions) {
		o.WithCredentials = true
	}
}

func findOptions(opts []FindOption) FindOptions {
	var o FindOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SaveOptions controls how Save writes a user.
type SaveOptions struct {
	// Validate runs User.Validate before writing.
	Validate bool
	// Credentials also writes the password hash and password-changed time.
	Credentials bool
}

// Field names a single column writable through UpdateField.
type Field string

const (
	// FieldActive takes a bool.
	FieldActive Field = "active"
	// FieldMobile takes a string.
	FieldMobile Field = "mobile"
	// FieldPasswordReset takes the reset hash to drop as a string and clears
	// the reset hash and expiry only while that hash is still stored. A
	// different stored hash returns domain.ErrConflict.
	FieldPasswordReset Field = "password_reset"
)
