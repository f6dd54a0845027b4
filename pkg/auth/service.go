package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/tendant/musa-idm/pkg/domain"
	"github.com/tendant/musa-idm/pkg/repository"
)

const (
	// DefaultCodeTTL is how long an email or mobile code stays valid.
	DefaultCodeTTL = 10 * time.Minute

	// DefaultResetTTL is how long a password reset token stays valid.
	DefaultResetTTL = 10 * time.Minute

	// conflictAttempts bounds saveWithRetry.
	conflictAttempts = 2
)

// UserRepository is the persistence contract the service needs.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID, opts ...repository.FindOption) (*domain.User, error)
	GetByEmail(ctx context.Context, email string, opts ...repository.FindOption) (*domain.User, error)
	GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (*domain.User, error)
	Save(ctx context.Context, user *domain.User, opts repository.SaveOptions) error
	UpdateField(ctx context.Context, id uuid.UUID, field repository.Field, value any) error
	UpdateAvailability(ctx context.Context, id uuid.UUID, day string, available bool) error
	FindAvailableTalents(ctx context.Context, day string) ([]*domain.User, error)
}

// Notifier delivers out-of-band messages. Every method may fail.
type Notifier interface {
	SendEmailVerification(ctx context.Context, user *domain.User) error
	SendMobileVerification(ctx context.Context, user *domain.User) error
	SendWelcome(ctx context.Context, user *domain.User) error
	SendPasswordReset(ctx context.Context, user *domain.User, resetURL string) error
}

// Observer is told about every stage-gated verification attempt.
type Observer interface {
	VerificationAttempt(stage domain.State, outcome string)
}

// Verification attempt outcomes reported to the Observer.
const (
	OutcomeVerified = "verified"
	OutcomeFailed   = "failed"
	OutcomeNoop     = "noop"
)

// ServiceConfig holds the tunables of the verification flows.
type ServiceConfig struct {
	CodeLength int
	CodeTTL    time.Duration
	ResetTTL   time.Duration
	// ResetURLBase is prefixed to the plaintext reset token in reset links.
	ResetURLBase string
	// ConcealUnknownEmail makes forgot-password succeed silently for
	// unknown addresses instead of returning domain.ErrUserNotFound.
	ConcealUnknownEmail  bool
	BlockDisposableEmail bool
	Now                  func() time.Time
}

// Service is the verification state machine. It drives signup, login,
// session authentication, the staged verify flow and password recovery.
type Service struct {
	config   ServiceConfig
	users    UserRepository
	notifier Notifier
	creds    *CredentialStore
	tokens   *TokenCodec
	policy   *PasswordPolicy
	observer Observer
	logger   *slog.Logger
}

// NewService creates a new verification service.
func NewService(
	config ServiceConfig,
	users UserRepository,
	notifier Notifier,
	creds *CredentialStore,
	tokens *TokenCodec,
	policy *PasswordPolicy,
	logger *slog.Logger,
) *Service {
	if config.CodeLength == 0 {
		config.CodeLength = DefaultCodeLength
	}
	if config.CodeTTL == 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	if config.ResetTTL == 0 {
		config.ResetTTL = DefaultResetTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if policy == nil {
		policy = &PasswordPolicy{MinLength: 8}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:   config,
		users:    users,
		notifier: notifier,
		creds:    creds,
		tokens:   tokens,
		policy:   policy,
		logger:   logger,
	}
}

// SetObserver registers o for verification attempts.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// TokenTTL returns the lifetime of issued session tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.tokens.TTL()
}

// AuthResult is a user together with a freshly issued session token.
// The user never carries its password hash.
type AuthResult struct {
	User  *domain.User
	Token string
}

// VerificationResult is the outcome of a verify, resend or status call.
type VerificationResult struct {
	User *domain.User
	// Stage is the state the user was in when the call was made.
	Stage    domain.State
	Snapshot domain.Snapshot
}

// VerifyInput carries whatever the current stage consumes: a code for the
// email and mobile stages, details for the last one. A stage-specific code
// takes precedence over Code.
type VerifyInput struct {
	Code       string
	EmailCode  string
	MobileCode string
	Details    *DetailsInput
}

// codeFor returns the code submitted for stage. A shorter all-digit code is
// left-padded with zeros to length, since a code sent as a JSON number loses
// its leading zeros.
func (in VerifyInput) codeFor(stage domain.State, length int) string {
	code := in.Code
	switch {
	case stage == domain.StateEmailPending && in.EmailCode != "":
		code = in.EmailCode
	case stage == domain.StateMobilePending && in.MobileCode != "":
		code = in.MobileCode
	}
	code = strings.TrimSpace(code)
	if code != "" && len(code) < length && strings.IndexFunc(code, notDigit) < 0 {
		code = strings.Repeat("0", length-len(code)) + code
	}
	return code
}

func notDigit(r rune) bool {
	return r < '0' || r > '9'
}

// Signup registers a new user in the email-pending stage and issues a token.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = SanitizeName(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if err := ValidateEmail(in.Email, s.config.BlockDisposableEmail); err != nil {
		return nil, err
	}
	if err := s.policy.Check("password", in.Password); err != nil {
		return nil, err
	}

	now := s.config.Now()
	first, last := SplitFullName(in.Name)
	user := &domain.User{
		ID:        uuid.New(),
		Email:     in.Email,
		FirstName: first,
		LastName:  last,
		Mobile:    in.Mobile,
		Type:      domain.UserType(in.Type),
		Profile:   domain.ProfileKind(in.Profile),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.Type == "" {
		user.Type = domain.UserTypeClient
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.creds.Hash(in.Password)
	if err != nil {
		return nil, s.internal("signup.hash", err)
	}
	user.PasswordHash = hash

	if err := s.issueEmailCode(user, now); err != nil {
		return nil, s.internal("signup.code", err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, domain.FieldError("email", err)
		}
		return nil, s.internal("signup.create", err)
	}

	if err := s.notifier.SendEmailVerification(ctx, user); err != nil {
		s.logger.Warn("verification email dispatch failed", "user_id", user.ID, "error", err)
	}

	return s.authResult(user)
}

// Login checks an email and password pair. An unknown email and a wrong
// password both return domain.ErrInvalidCredentials after one hash compare.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(in.Email), repository.WithCredentials())
	if errors.Is(err, domain.ErrUserNotFound) {
		s.creds.VerifyDummy(in.Password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, s.internal("login.lookup", err)
	}

	if !s.creds.Verify(in.Password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	return s.authResult(user)
}

// Authenticate resolves a session token to its active user. A token issued
// before the user's last password change returns domain.ErrStaleSession.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}
	session, err := s.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, s.internal("authenticate.lookup", err)
	}

	if user.PasswordChangedAfter(session.IssuedAt) {
		return nil, domain.ErrStaleSession
	}
	return user, nil
}

// Status returns the current verification view of a user.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*VerificationResult, error) {
	user, err := s.loadUser(ctx, "status", userID)
	if err != nil {
		return nil, err
	}
	return s.result(user, domain.DeriveState(user)), nil
}

// Verify advances the user by one stage. Exactly one stage is considered,
// the earliest incomplete one. A wrong or expired code returns the unchanged
// snapshot together with domain.ErrVerificationFailed. Calling Verify when no
// stage accepts input returns the snapshot and writes nothing.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, in VerifyInput) (*VerificationResult, error) {
	user, err := s.loadUser(ctx, "verify", userID)
	if err != nil {
		return nil, err
	}
	now := s.config.Now()
	stage := domain.DeriveState(user)

	switch stage {
	case domain.StateEmailPending:
		if !CodesEqual(user.EmailVerificationCode, in.codeFor(stage, s.config.CodeLength)) || user.EmailCodeExpired(now) {
			return s.failed(user, stage)
		}
		user.Verification.Email = true
		user.ClearEmailCode()
		if err := s.issueMobileCode(user, now); err != nil {
			return nil, s.internal("verify.email.code", err)
		}
		if err := s.saveStage(ctx, user); err != nil {
			return s.saveFailed(ctx, user, stage, "verify.email", err)
		}
		if err := s.notifier.SendMobileVerification(ctx, user); err != nil {
			s.logger.Warn("mobile code dispatch failed", "user_id", user.ID, "error", err)
		}

	case domain.StateMobilePending:
		if !CodesEqual(user.MobileVerificationCode, in.codeFor(stage, s.config.CodeLength)) || user.MobileCodeExpired(now) {
			return s.failed(user, stage)
		}
		user.Verification.Mobile = true
		user.ClearMobileCode()
		if err := s.saveStage(ctx, user); err != nil {
			return s.saveFailed(ctx, user, stage, "verify.mobile", err)
		}

	case domain.StateDetailsPending:
		if in.Details.Empty() {
			return nil, domain.NewValidationError("details", "please provide your details")
		}
		if err := validateInput(in.Details); err != nil {
			return nil, err
		}
		in.Details.apply(user)
		user.Verification.Details = true
		if err := s.saveStage(ctx, user); err != nil {
			return s.saveFailed(ctx, user, stage, "verify.details", err)
		}
		if err := s.notifier.SendWelcome(ctx, user); err != nil {
			s.logger.Warn("welcome email dispatch failed", "user_id", user.ID, "error", err)
		}

	default:
		s.observe(stage, OutcomeNoop)
		return s.result(user, stage), nil
	}

	s.observe(stage, OutcomeVerified)
	s.logger.Info("verification stage completed", "user_id", user.ID, "stage", string(stage))
	return s.result(user, stage), nil
}

// ResendCode replaces the code of the current code stage with a fresh one and
// dispatches it. Users outside the email and mobile stages get their snapshot
// back unchanged.
func (s *Service) ResendCode(ctx context.Context, userID uuid.UUID) (*VerificationResult, error) {
	user, err := s.loadUser(ctx, "resend", userID)
	if err != nil {
		return nil, err
	}
	now := s.config.Now()
	stage := domain.DeriveState(user)

	var send func(context.Context, *domain.User) error
	switch stage {
	case domain.StateUnverified, domain.StateEmailPending:
		err = s.issueEmailCode(user, now)
		send = s.notifier.SendEmailVerification
	case domain.StateEmailVerified, domain.StateMobilePending:
		err = s.issueMobileCode(user, now)
		send = s.notifier.SendMobileVerification
	default:
		return s.result(user, stage), nil
	}
	if err != nil {
		return nil, s.internal("resend.code", err)
	}

	if err := s.saveStage(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrVerificationFailed
		}
		return nil, s.internal("resend.save", err)
	}
	if err := send(ctx, user); err != nil {
		s.logger.Error("code dispatch failed", "user_id", user.ID, "stage", string(stage), "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrNotificationFailure, err)
	}
	return s.result(user, stage), nil
}

// ChangeMobile sets the mobile number of a user whose email is verified and
// whose mobile is not, then issues and sends a fresh mobile code to it.
func (s *Service) ChangeMobile(ctx context.Context, userID uuid.UUID, in MobileInput) (*VerificationResult, error) {
	in.Mobile = strings.TrimSpace(in.Mobile)
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	user, err := s.loadUser(ctx, "change_mobile", userID)
	if err != nil {
		return nil, err
	}
	if !user.Verification.Email || user.Verification.Mobile {
		return nil, domain.NewValidationError("mobile", "can only be set after email verification and before mobile verification")
	}

	if err := s.users.UpdateField(ctx, userID, repository.FieldMobile, in.Mobile); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, s.internal("change_mobile.update", err)
	}
	s.logger.Info("mobile number changed", "user_id", userID)
	return s.ResendCode(ctx, userID)
}

// ForgotPassword stores the hash of a new reset token for the user with
// email and sends the reset link. If sending fails the stored hash is
// cleared again, unless a newer one replaced it, before
// domain.ErrNotificationFailure is returned.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return domain.NewValidationError("email", "please provide your email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		if s.config.ConcealUnknownEmail {
			return nil
		}
		return err
	}
	if err != nil {
		return s.internal("forgot.lookup", err)
	}

	plaintext, hash, err := ResetToken()
	if err != nil {
		return s.internal("forgot.token", err)
	}
	expires := s.config.Now().Add(s.config.ResetTTL)

	user, err = s.saveWithRetry(ctx, user, nil, repository.SaveOptions{}, func(u *domain.User) error {
		u.PasswordResetTokenHash = hash
		u.PasswordResetExpires = &expires
		return nil
	})
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	if err != nil {
		return s.internal("forgot.save", err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user, s.config.ResetURLBase+plaintext); err != nil {
		s.logger.Error("password reset dispatch failed", "user_id", user.ID, "error", err)
		s.dropResetHash(ctx, user.ID, hash)
		return fmt.Errorf("%w: %w", domain.ErrNotificationFailure, err)
	}
	return nil
}

// dropResetHash clears the reset secret only while hash is still the stored
// one, so a newer token issued in the meantime survives.
func (s *Service) dropResetHash(ctx context.Context, id uuid.UUID, hash string) {
	err := s.users.UpdateField(ctx, id, repository.FieldPasswordReset, hash)
	switch {
	case errors.Is(err, domain.ErrConflict):
		s.logger.Info("password reset token replaced, keeping it", "user_id", id)
	case err != nil:
		s.logger.Error("failed to clear password reset token", "user_id", id, "error", err)
	}
}

// ResetPassword consumes a reset token, sets a new password and issues a
// fresh session token. Each token works once.
func (s *Service) ResetPassword(ctx context.Context, token string, in ResetPasswordInput) (*AuthResult, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if err := s.policy.Check("password", in.Password); err != nil {
		return nil, err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrTokenInvalidOrExpired
	}
	user, err := s.users.GetByResetTokenHash(ctx, HashResetToken(token), s.config.Now())
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrTokenInvalidOrExpired
	}
	if err != nil {
		return nil, s.internal("reset.lookup", err)
	}

	if err := s.creds.SetPassword(user, in.Password); err != nil {
		return nil, s.internal("reset.hash", err)
	}
	if err := s.users.Save(ctx, user, repository.SaveOptions{Credentials: true}); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrTokenInvalidOrExpired
		}
		return nil, s.internal("reset.save", err)
	}

	s.logger.Info("password reset", "user_id", user.ID)
	return s.authResult(user)
}

// UpdatePassword changes the password of an authenticated user after checking
// the current one, and issues a fresh session token.
func (s *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, in UpdatePasswordInput) (*AuthResult, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID, repository.WithCredentials())
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, s.internal("update_password.lookup", err)
	}

	find := []repository.FindOption{repository.WithCredentials()}
	user, err = s.saveWithRetry(ctx, user, find, repository.SaveOptions{Credentials: true}, func(u *domain.User) error {
		if !s.creds.Verify(in.PasswordCurrent, u.PasswordHash) {
			return domain.ErrInvalidCurrentPassword
		}
		if err := s.policy.Check("password", in.Password); err != nil {
			return err
		}
		return s.creds.SetPassword(u, in.Password)
	})
	switch {
	case errors.Is(err, domain.ErrInvalidCurrentPassword),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrConflict):
		return nil, err
	case errors.Is(err, domain.ErrUserNotFound):
		return nil, domain.ErrUnauthenticated
	case err != nil:
		return nil, s.internal("update_password.save", err)
	}

	s.logger.Info("password updated", "user_id", user.ID)
	return s.authResult(user)
}

// UpdateAvailability records whether a talent can work on in.Day and returns
// the updated user. Clients have no availability.
func (s *Service) UpdateAvailability(ctx context.Context, userID uuid.UUID, in AvailabilityInput) (*domain.User, error) {
	in.Day = strings.TrimSpace(in.Day)
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	user, err := s.loadUser(ctx, "availability", userID)
	if err != nil {
		return nil, err
	}
	if user.Type != domain.UserTypeTalent {
		return nil, domain.NewValidationError("type", "only talents have availability")
	}

	if err := s.users.UpdateAvailability(ctx, userID, in.Day, *in.Available); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, s.internal("availability.update", err)
	}
	return s.loadUser(ctx, "availability", userID)
}

// FindAvailableTalents lists the active talents available on day.
func (s *Service) FindAvailableTalents(ctx context.Context, day string) ([]*domain.User, error) {
	q := dayQuery{Day: strings.TrimSpace(day)}
	if err := validateInput(&q); err != nil {
		return nil, err
	}
	users, err := s.users.FindAvailableTalents(ctx, q.Day)
	if err != nil {
		return nil, s.internal("availability.find", err)
	}
	return users, nil
}

// Deactivate soft-deletes a user. Deactivated users can no longer log in
// or authenticate.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.UpdateField(ctx, userID, repository.FieldActive, false); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		return s.internal("deactivate", err)
	}
	s.logger.Info("user deactivated", "user_id", userID)
	return nil
}

func (s *Service) loadUser(ctx context.Context, op string, id uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, s.internal(op+".lookup", err)
	}
	return user, nil
}

// saveWithRetry applies mutate to user and saves it. When the write loses an
// optimistic race the user is reloaded with find and mutate runs once more.
// A second lost race returns domain.ErrConflict.
func (s *Service) saveWithRetry(
	ctx context.Context,
	user *domain.User,
	find []repository.FindOption,
	opts repository.SaveOptions,
	mutate func(*domain.User) error,
) (*domain.User, error) {
	for attempt := 1; ; attempt++ {
		if err := mutate(user); err != nil {
			return nil, err
		}
		err := s.users.Save(ctx, user, opts)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == conflictAttempts {
			return nil, err
		}
		s.logger.Info("concurrent update, retrying", "user_id", user.ID)
		if user, err = s.users.GetByID(ctx, user.ID, find...); err != nil {
			return nil, err
		}
	}
}

// saveStage persists a verification step without validating profile fields.
func (s *Service) saveStage(ctx context.Context, user *domain.User) error {
	return s.users.Save(ctx, user, repository.SaveOptions{})
}

func (s *Service) issueEmailCode(user *domain.User, now time.Time) error {
	code, err := NumericCode(s.config.CodeLength)
	if err != nil {
		return err
	}
	expires := now.Add(s.config.CodeTTL)
	user.EmailVerificationCode = code
	user.EmailVerificationExpires = &expires
	return nil
}

func (s *Service) issueMobileCode(user *domain.User, now time.Time) error {
	code, err := NumericCode(s.config.CodeLength)
	if err != nil {
		return err
	}
	expires := now.Add(s.config.CodeTTL)
	user.MobileVerificationCode = code
	user.MobileVerificationExpires = &expires
	return nil
}

func (s *Service) failed(user *domain.User, stage domain.State) (*VerificationResult, error) {
	s.observe(stage, OutcomeFailed)
	return s.result(user, stage), domain.ErrVerificationFailed
}

// saveFailed handles a write error after a code matched. Losing the
// optimistic race means another request consumed the code first.
func (s *Service) saveFailed(ctx context.Context, user *domain.User, stage domain.State, op string, err error) (*VerificationResult, error) {
	if !errors.Is(err, domain.ErrConflict) {
		return nil, s.internal(op, err)
	}
	current, lerr := s.users.GetByID(ctx, user.ID)
	if lerr != nil {
		return nil, domain.ErrVerificationFailed
	}
	return s.failed(current, stage)
}

func (s *Service) result(user *domain.User, stage domain.State) *VerificationResult {
	return &VerificationResult{
		User:     user,
		Stage:    stage,
		Snapshot: domain.SnapshotOf(user, s.config.Now()),
	}
}

func (s *Service) authResult(user *domain.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, s.internal("issue_token", err)
	}
	user.PasswordHash = ""
	return &AuthResult{User: user, Token: token}, nil
}

func (s *Service) observe(stage domain.State, outcome string) {
	if s.observer != nil {
		s.observer.VerificationAttempt(stage, outcome)
	}
}

func (s *Service) internal(op string, err error) error {
	return oops.Code("INTERNAL").With("operation", op).Wrap(err)
}
