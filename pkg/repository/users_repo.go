package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/musa-idm/pkg/domain"
)

const uniqueViolation = "23505"

const userColumns = `
	id, email, first_name, last_name, mobile, user_type, profile, birth_date, gender,
	street, street_number, postal_code, city, district, state,
	email_verified, mobile_verified, details_verified, cc_verified, vat_verified,
	password_changed_at,
	email_verification_code, email_verification_expires,
	mobile_verification_code, mobile_verification_expires,
	password_reset_token_hash, password_reset_expires,
	active, version, created_at, updated_at`

// UsersRepository handles user persistence in PostgreSQL.
type UsersRepository struct {
	db *sql.DB
}

// NewUsersRepository creates a new users repository.
func NewUsersRepository(db *sql.DB) *UsersRepository {
	return &UsersRepository{db: db}
}

// Create inserts a new user. The email must be unique case-insensitively.
func (r *UsersRepository) Create(ctx context.Context, user *domain.User) error {
	if user.Version == 0 {
		user.Version = 1
	}
	query := `
		INSERT INTO users (
			id, email, first_name, last_name, mobile, user_type, profile, birth_date, gender,
			street, street_number, postal_code, city, district, state,
			email_verified, mobile_verified, details_verified, cc_verified, vat_verified,
			password_hash, password_changed_at,
			email_verification_code, email_verification_expires,
			mobile_verification_code, mobile_verification_expires,
			password_reset_token_hash, password_reset_expires,
			active, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22,
			$23, $24,
			$25, $26,
			$27, $28,
			$29, $30, $31, $32
		)
	`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	a := user.Address
	v := user.Verification
	_, err = tx.ExecContext(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName, user.Mobile, string(user.Type), string(user.Profile), user.BirthDate, user.Gender,
		a.Street, a.StreetNumber, a.PostalCode, a.City, a.District, a.State,
		v.Email, v.Mobile, v.Details, v.CC, v.VAT,
		user.PasswordHash, user.PasswordChangedAt,
		nullString(user.EmailVerificationCode), user.EmailVerificationExpires,
		nullString(user.MobileVerificationCode), user.MobileVerificationExpires,
		nullString(user.PasswordResetTokenHash), user.PasswordResetExpires,
		user.Active, user.Version, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	if err != nil {
		return err
	}
	for _, day := range user.Availability {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_availability (user_id, day, available) VALUES ($1, $2::date, $3)`,
			user.ID, day.Day, day.Available,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetByID retrieves an active user by ID.
func (r *UsersRepository) GetByID(ctx context.Context, id uuid.UUID, opts ...FindOption) (*domain.User, error) {
	return r.getOne(ctx, findOptions(opts), "id = $1", id)
}

// GetByEmail retrieves an active user by email, ignoring case.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string, opts ...FindOption) (*domain.User, error) {
	return r.getOne(ctx, findOptions(opts), "lower(email) = lower($1)", email)
}

// GetByResetTokenHash retrieves the active user holding hash as an unexpired reset secret.
func (r *UsersRepository) GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (*domain.User, error) {
	return r.getOne(ctx, FindOptions{}, "password_reset_token_hash = $1 AND password_reset_expires > $2", hash, now)
}

func (r *UsersRepository) getOne(ctx context.Context, o FindOptions, where string, args ...any) (*domain.User, error) {
	columns := userColumns
	if o.WithCredentials {
		columns += ", password_hash"
	}
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s AND active", columns, where)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...), o.WithCredentials)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadAvailability(ctx, []*domain.User{user}); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateAvailability upserts the availability of one day for an active user.
func (r *UsersRepository) UpdateAvailability(ctx context.Context, id uuid.UUID, day string, available bool) error {
	query := `
		INSERT INTO user_availability (user_id, day, available)
		SELECT id, $2::date, $3 FROM users WHERE id = $1 AND active
		ON CONFLICT (user_id, day) DO UPDATE SET available = EXCLUDED.available
	`
	result, err := r.db.ExecContext(ctx, query, id, day, available)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// FindAvailableTalents returns the active talents available on day, oldest
// account first.
func (r *UsersRepository) FindAvailableTalents(ctx context.Context, day string) ([]*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE active AND user_type = 'talent'
		  AND id IN (SELECT user_id FROM user_availability WHERE day = $1::date AND available)
		ORDER BY created_at, id
	`, userColumns)

	rows, err := r.db.QueryContext(ctx, query, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows, false)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadAvailability(ctx, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UsersRepository) loadAvailability(ctx context.Context, users []*domain.User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.User, len(users))
	ids := make([]string, 0, len(users))
	for _, u := range users {
		byID[u.ID] = u
		ids = append(ids, u.ID.String())
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, to_char(day, 'YYYY-MM-DD'), available
		FROM user_availability
		WHERE user_id = ANY($1::uuid[])
		ORDER BY user_id, day
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  uuid.UUID
			day domain.DayAvailability
		)
		if err := rows.Scan(&id, &day.Day, &day.Available); err != nil {
			return err
		}
		if u := byID[id]; u != nil {
			u.Availability = append(u.Availability, day)
		}
	}
	return rows.Err()
}

// Save writes the mutable fields of user if the stored version still matches
// user.Version, then increments it. A lost race returns domain.ErrConflict.
func (r *UsersRepository) Save(ctx context.Context, user *domain.User, opts SaveOptions) error {
	if opts.Validate {
		if err := user.Validate(); err != nil {
			return err
		}
	}

	now := time.Now()
	a := user.Address
	v := user.Verification
	args := []any{
		user.ID, user.Version,
		user.Email, user.FirstName, user.LastName, user.Mobile, string(user.Type), string(user.Profile), user.BirthDate, user.Gender,
		a.Street, a.StreetNumber, a.PostalCode, a.City, a.District, a.State,
		v.Email, v.Mobile, v.Details, v.CC, v.VAT,
		nullString(user.EmailVerificationCode), user.EmailVerificationExpires,
		nullString(user.MobileVerificationCode), user.MobileVerificationExpires,
		nullString(user.PasswordResetTokenHash), user.PasswordResetExpires,
		now,
	}

	credentials := ""
	if opts.Credentials {
		credentials = ", password_hash = $29, password_changed_at = $30"
		args = append(args, user.PasswordHash, user.PasswordChangedAt)
	}

	query := `
		UPDATE users
		SET email = $3, first_name = $4, last_name = $5, mobile = $6, user_type = $7, profile = $8,
		    birth_date = $9, gender = $10,
		    street = $11, street_number = $12, postal_code = $13, city = $14, district = $15, state = $16,
		    email_verified = $17, mobile_verified = $18, details_verified = $19, cc_verified = $20, vat_verified = $21,
		    email_verification_code = $22, email_verification_expires = $23,
		    mobile_verification_code = $24, mobile_verification_expires = $25,
		    password_reset_token_hash = $26, password_reset_expires = $27,
		    updated_at = $28, version = version + 1` + credentials + `
		WHERE id = $1 AND version = $2 AND active
	`
	result, err := r.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return r.missOrConflict(ctx, user.ID)
	}

	user.Version++
	user.UpdatedAt = now
	return nil
}

// missOrConflict decides why a versioned update matched no row.
func (r *UsersRepository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM users WHERE id = $1 AND active`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConflict
}

// UpdateField writes a single column without a version check.
func (r *UsersRepository) UpdateField(ctx context.Context, id uuid.UUID, field Field, value any) error {
	var (
		query string
		args  = []any{id}
	)
	switch field {
	case FieldActive:
		active, ok := value.(bool)
		if !ok {
			return fmt.Errorf("repository: %s expects bool, got %T", field, value)
		}
		// Deactivation is the only case that may target an inactive row.
		query = `UPDATE users SET active = $2, updated_at = NOW(), version = version + 1 WHERE id = $1`
		args = append(args, active)
	case FieldMobile:
		mobile, ok := value.(string)
		if !ok {
			return fmt.Errorf("repository: %s expects string, got %T", field, value)
		}
		query = `UPDATE users SET mobile = $2, updated_at = NOW(), version = version + 1 WHERE id = $1 AND active`
		args = append(args, mobile)
	case FieldPasswordReset:
		hash, ok := value.(string)
		if !ok || hash == "" {
			return fmt.Errorf("repository: %s expects the stored hash, got %T", field, value)
		}
		query = `
			UPDATE users
			SET password_reset_token_hash = NULL, password_reset_expires = NULL,
			    updated_at = NOW(), version = version + 1
			WHERE id = $1 AND active AND password_reset_token_hash = $2
		`
		args = append(args, hash)
	default:
		return fmt.Errorf("repository: field %q is not updatable", field)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if field == FieldPasswordReset {
			return r.missOrConflict(ctx, id)
		}
		return domain.ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, withCredentials bool) (*domain.User, error) {
	var (
		user                            domain.User
		userType, profile               string
		emailCode, mobileCode, resetTok sql.NullString
	)
	a := &user.Address
	v := &user.Verification
	dest := []any{
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Mobile, &userType, &profile, &user.BirthDate, &user.Gender,
		&a.Street, &a.StreetNumber, &a.PostalCode, &a.City, &a.District, &a.State,
		&v.Email, &v.Mobile, &v.Details, &v.CC, &v.VAT,
		&user.PasswordChangedAt,
		&emailCode, &user.EmailVerificationExpires,
		&mobileCode, &user.MobileVerificationExpires,
		&resetTok, &user.PasswordResetExpires,
		&user.Active, &user.Version, &user.CreatedAt, &user.UpdatedAt,
	}
	if withCredentials {
		dest = append(dest, &user.PasswordHash)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	user.Type = domain.UserType(userType)
	user.Profile = domain.ProfileKind(profile)
	user.EmailVerificationCode = emailCode.String
	user.MobileVerificationCode = mobileCode.String
	user.PasswordResetTokenHash = resetTok.String
	return &user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
