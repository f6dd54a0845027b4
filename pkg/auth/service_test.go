package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/musa-idm/pkg/domain"
	"github.com/tendant/musa-idm/pkg/repository"
	"golang.org/x/crypto/bcrypt"
)

const testResetBase = "http://localhost:8080/user/resetPassword/"

// recordingNotifier captures the secrets handed to it at send time.
type recordingNotifier struct {
	mu          sync.Mutex
	emailCodes  []string
	mobileCodes []string
	welcomes    []uuid.UUID
	resetURLs   []string

	failEmail  error
	failMobile error
	failReset  error

	// onReset runs before a reset link is sent.
	onReset func()
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, u *domain.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failEmail != nil {
		return n.failEmail
	}
	n.emailCodes = append(n.emailCodes, u.EmailVerificationCode)
	return nil
}

func (n *recordingNotifier) SendMobileVerification(_ context.Context, u *domain.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failMobile != nil {
		return n.failMobile
	}
	n.mobileCodes = append(n.mobileCodes, u.MobileVerificationCode)
	return nil
}

func (n *recordingNotifier) SendWelcome(_ context.Context, u *domain.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcomes = append(n.welcomes, u.ID)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, _ *domain.User, resetURL string) error {
	if n.onReset != nil {
		n.onReset()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failReset != nil {
		return n.failReset
	}
	n.resetURLs = append(n.resetURLs, resetURL)
	return nil
}

func (n *recordingNotifier) lastEmailCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.emailCodes) == 0 {
		return ""
	}
	return n.emailCodes[len(n.emailCodes)-1]
}

func (n *recordingNotifier) lastMobileCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.mobileCodes) == 0 {
		return ""
	}
	return n.mobileCodes[len(n.mobileCodes)-1]
}

func (n *recordingNotifier) lastResetToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.resetURLs) == 0 {
		return ""
	}
	return strings.TrimPrefix(n.resetURLs[len(n.resetURLs)-1], testResetBase)
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts []string
}

func (o *recordingObserver) VerificationAttempt(stage domain.State, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, string(stage)+":"+outcome)
}

type fixture struct {
	svc      *Service
	users    *repository.MemoryUsers
	notifier *recordingNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T, configure ...func(*ServiceConfig)) *fixture {
	t.Helper()

	clock := newFakeClock()
	users := repository.NewMemoryUsers()
	notifier := &recordingNotifier{}

	cfg := ServiceConfig{
		CodeLength:   5,
		CodeTTL:      10 * time.Minute,
		ResetTTL:     10 * time.Minute,
		ResetURLBase: testResetBase,
		Now:          clock.Now,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	svc := NewService(
		cfg,
		users,
		notifier,
		NewCredentialStore(bcrypt.MinCost, clock.Now),
		NewTokenCodec(TokenConfig{Secret: testSecret, TTL: 24 * time.Hour, Now: clock.Now}),
		&PasswordPolicy{MinLength: 8},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &fixture{svc: svc, users: users, notifier: notifier, clock: clock}
}

func annSignup() SignupInput {
	return SignupInput{
		Name:            "Ann Lee",
		Email:           "a@b.com",
		Password:        "Passw0rd!",
		PasswordConfirm: "Passw0rd!",
	}
}

func (f *fixture) signup(t *testing.T) *AuthResult {
	t.Helper()
	res, err := f.svc.Signup(context.Background(), annSignup())
	require.NoError(t, err)
	return res
}

// verifyAll takes a freshly signed-up user to fully verified.
func (f *fixture) verifyAll(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, id, VerifyInput{Code: f.notifier.lastEmailCode()})
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, id, VerifyInput{Code: f.notifier.lastMobileCode()})
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, id, VerifyInput{Details: &DetailsInput{City: strPtr("Lisboa")}})
	require.NoError(t, err)
}

func TestSignupThenVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.signup(t)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "Ann", res.User.FirstName)
	assert.Equal(t, "Lee", res.User.LastName)
	assert.Equal(t, domain.UserTypeClient, res.User.Type)
	assert.Empty(t, res.User.PasswordHash)
	assert.False(t, res.User.Verification.Email)
	assert.Equal(t, domain.StateEmailPending, domain.DeriveState(res.User))

	emailCode := f.notifier.lastEmailCode()
	require.Len(t, emailCode, 5)

	// Email stage.
	f.clock.Advance(9 * time.Minute)
	out, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: emailCode})
	require.NoError(t, err)
	assert.Equal(t, domain.StateEmailPending, out.Stage)
	assert.True(t, out.Snapshot.EmailVerified)
	assert.False(t, out.Snapshot.EmailCodePresent)
	assert.True(t, out.Snapshot.MobileCodePresent)
	assert.Equal(t, domain.StateMobilePending, out.Snapshot.State)

	mobileCode := f.notifier.lastMobileCode()
	require.Len(t, mobileCode, 5)

	// Wrong mobile code.
	out, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: "000000"})
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	require.NotNil(t, out)
	assert.False(t, out.Snapshot.MobileVerified)
	assert.True(t, out.Snapshot.MobileCodePresent)

	// Correct mobile code.
	out, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: mobileCode})
	require.NoError(t, err)
	assert.True(t, out.Snapshot.MobileVerified)
	assert.False(t, out.Snapshot.MobileCodePresent)
	assert.False(t, out.Snapshot.FullyVerified)
	assert.Equal(t, domain.StateDetailsPending, out.Snapshot.State)

	// Details stage.
	out, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Details: &DetailsInput{
		FullName:  strPtr("Ann Marie Lee"),
		BirthDate: strPtr("1990-04-25"),
		District:  strPtr("Porto"),
	}})
	require.NoError(t, err)
	assert.True(t, out.Snapshot.FullyVerified)
	assert.Equal(t, domain.StateFullyVerified, out.Snapshot.State)
	assert.Equal(t, "Marie Lee", out.User.LastName)
	assert.Equal(t, "Porto", out.User.Address.District)
	assert.Len(t, f.notifier.welcomes, 1)

	stored, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.True(t, stored.FullyVerified())
}

func TestVerify_ExpiredEmailCode(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)

	f.clock.Advance(10*time.Minute + time.Second)
	out, err := f.svc.Verify(context.Background(), res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})

	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.False(t, out.Snapshot.EmailVerified)
	assert.True(t, out.Snapshot.EmailCodeExpired)

	stored, err := f.users.GetByID(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.False(t, stored.Verification.Email)
}

func TestVerify_ExpiresAtExactTTL(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)

	f.clock.Advance(10 * time.Minute)
	_, err := f.svc.Verify(context.Background(), res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestVerify_ExpiredMobileCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t)

	_, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	out, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: f.notifier.lastMobileCode()})
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.False(t, out.Snapshot.MobileVerified)
}

func TestVerify_MobileCodeBeforeEmailIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t)

	// Plant a pending mobile code while the email stage is still open.
	u, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	expires := f.clock.Now().Add(time.Hour)
	u.MobileVerificationCode = "123456"
	u.MobileVerificationExpires = &expires
	require.NoError(t, f.users.Save(ctx, u, repository.SaveOptions{}))

	out, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: "123456"})
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.Equal(t, domain.StateEmailPending, out.Stage)
	assert.False(t, out.Snapshot.MobileVerified)
	assert.False(t, out.Snapshot.EmailVerified)
}

func TestVerify_StageSpecificCodeWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t)

	// The mobile code field is ignored while the email stage is open.
	_, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{MobileCode: f.notifier.lastEmailCode()})
	require.ErrorIs(t, err, domain.ErrVerificationFailed)

	out, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: "00000", EmailCode: f.notifier.lastEmailCode()})
	require.NoError(t, err)
	assert.True(t, out.Snapshot.EmailVerified)

	out, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{MobileCode: " " + f.notifier.lastMobileCode() + " "})
	require.NoError(t, err)
	assert.True(t, out.Snapshot.MobileVerified)
}

func TestVerify_IdempotentWhenFullyVerified(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	f.verifyAll(t, res.User.ID)

	before := f.users.Writes()
	out, err := f.svc.Verify(context.Background(), res.User.ID, VerifyInput{Code: "12345"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFullyVerified, out.Stage)
	assert.True(t, out.Snapshot.FullyVerified)
	assert.Equal(t, before, f.users.Writes())
}

func TestVerify_NoPendingCodeIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t)

	u, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	u.ClearEmailCode()
	require.NoError(t, f.users.Save(ctx, u, repository.SaveOptions{}))

	before := f.users.Writes()
	out, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: "12345"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateUnverified, out.Stage)
	assert.Equal(t, before, f.users.Writes())
}

func TestVerify_DetailsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t)

	_, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: f.notifier.lastMobileCode()})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Details: &DetailsInput{District: strPtr("Madrid")}})
	require.ErrorIs(t, err, domain.ErrValidation)

	stored, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.False(t, stored.Verification.Details)
	assert.Empty(t, f.notifier.welcomes)
}

func TestVerify_ConcurrentCodeConsumedOnce(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	code := f.notifier.lastEmailCode()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(context.Background(), res.User.ID, VerifyInput{Code: code})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrVerificationFailed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Len(t, f.notifier.mobileCodes, 1)
}

// conflictingUsers loses every optimistic write.
type conflictingUsers struct {
	*repository.MemoryUsers
}

func (c conflictingUsers) Save(context.Context, *domain.User, repository.SaveOptions) error {
	return domain.ErrConflict
}

// flakyUsers loses the next conflicts optimistic writes.
type flakyUsers struct {
	*repository.MemoryUsers
	conflicts int
}

func (f *flakyUsers) Save(ctx context.Context, u *domain.User, opts repository.SaveOptions) error {
	if f.conflicts > 0 {
		f.conflicts--
		return domain.ErrConflict
	}
	return f.MemoryUsers.Save(ctx, u, opts)
}

func TestVerify_LostRaceReportsFailure(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)

	f.svc.users = conflictingUsers{f.users}
	out, err := f.svc.Verify(context.Background(), res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.False(t, out.Snapshot.EmailVerified)
}

func TestVerify_Observer(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	f.svc.SetObserver(obs)
	res := f.signup(t)

	_, _ = f.svc.Verify(context.Background(), res.User.ID, VerifyInput{Code: "000000"})
	_, _ = f.svc.Verify(context.Background(), res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})

	assert.Equal(t, []string{"email_pending:failed", "email_pending:verified"}, obs.attempts)
}

func TestVerify_RestoresLeadingZeros(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	u, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	u.EmailVerificationCode = "00321"
	require.NoError(t, f.users.Save(ctx, u, repository.SaveOptions{}))

	_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: "21"})
	require.ErrorIs(t, err, domain.ErrVerificationFailed)

	out, err := f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: "321"})
	require.NoError(t, err)
	assert.True(t, out.Snapshot.EmailVerified)
}

func TestVerifyInput_CodeFor(t *testing.T) {
	tests := []struct {
		name  string
		in    VerifyInput
		stage domain.State
		want  string
	}{
		{"generic code", VerifyInput{Code: " 12345 "}, domain.StateEmailPending, "12345"},
		{"stage code wins", VerifyInput{Code: "11111", EmailCode: "22222"}, domain.StateEmailPending, "22222"},
		{"other stage code ignored", VerifyInput{Code: "11111", EmailCode: "22222"}, domain.StateMobilePending, "11111"},
		{"padded", VerifyInput{MobileCode: "4321"}, domain.StateMobilePending, "04321"},
		{"non-digits untouched", VerifyInput{Code: "43a1"}, domain.StateEmailPending, "43a1"},
		{"empty stays empty", VerifyInput{}, domain.StateEmailPending, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.codeFor(tt.stage, 5))
		})
	}
}

func TestSignup_Errors(t *testing.T) {
	f := newFixture(t)
	f.signup(t)

	dup := annSignup()
	dup.Email = "  A@B.com "
	_, err := f.svc.Signup(context.Background(), dup)
	assert.ErrorIs(t, err, domain.ErrUserAlreadyExists)
	assert.ErrorIs(t, err, domain.ErrValidation)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Details, "email")

	tests := []struct {
		name   string
		mutate func(*SignupInput)
	}{
		{"bad email", func(in *SignupInput) { in.Email = "nope" }},
		{"short password", func(in *SignupInput) { in.Password, in.PasswordConfirm = "short", "short" }},
		{"confirm mismatch", func(in *SignupInput) { in.PasswordConfirm = "Passw0rd?" }},
		{"single name", func(in *SignupInput) { in.Name = "Ann" }},
		{"profile on client", func(in *SignupInput) { in.Profile = "individual" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := annSignup()
			in.Email = "other@b.com"
			tt.mutate(&in)
			_, err := f.svc.Signup(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSignup_TalentWithProfile(t *testing.T) {
	f := newFixture(t)
	in := annSignup()
	in.Type = "talent"
	in.Profile = "individual"

	res, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.UserTypeTalent, res.User.Type)
	assert.Equal(t, domain.ProfileIndividual, res.User.Profile)
}

func boolPtr(b bool) *bool { return &b }

func TestUpdateAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client := f.signup(t)
	_, err := f.svc.UpdateAvailability(ctx, client.User.ID, AvailabilityInput{Day: "2026-05-01", Available: boolPtr(true)})
	assert.ErrorIs(t, err, domain.ErrValidation, "clients have no availability")

	in := annSignup()
	in.Email = "talent@b.com"
	in.Type = "talent"
	talent, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   AvailabilityInput
	}{
		{"missing flag", AvailabilityInput{Day: "2026-05-01"}},
		{"bad day", AvailabilityInput{Day: "01/05/2026", Available: boolPtr(true)}},
		{"missing day", AvailabilityInput{Available: boolPtr(true)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateAvailability(ctx, talent.User.ID, tt.in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	updated, err := f.svc.UpdateAvailability(ctx, talent.User.ID, AvailabilityInput{Day: "2026-05-01", Available: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, updated.AvailableOn("2026-05-01"))

	found, err := f.svc.FindAvailableTalents(ctx, "2026-05-01")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, talent.User.ID, found[0].ID)

	_, err = f.svc.UpdateAvailability(ctx, talent.User.ID, AvailabilityInput{Day: "2026-05-01", Available: boolPtr(false)})
	require.NoError(t, err)
	found, err = f.svc.FindAvailableTalents(ctx, "2026-05-01")
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = f.svc.FindAvailableTalents(ctx, "tomorrow")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSignup_EmailDispatchFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.notifier.failEmail = errors.New("smtp down")

	res, err := f.svc.Signup(context.Background(), annSignup())
	require.NoError(t, err)
	assert.True(t, res.User.HasEmailCode())
}

func TestSignup_StoredHashNeverPlaintext(t *testing.T) {
	f := newFixture(t)
	f.signup(t)

	stored, err := f.users.GetByEmail(context.Background(), "a@b.com", repository.WithCredentials())
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd!", stored.PasswordHash)
	assert.True(t, f.svc.creds.Verify("Passw0rd!", stored.PasswordHash))
}

func TestLogin_ErrorsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	ctx := context.Background()

	_, wrongPassword := f.svc.Login(ctx, LoginInput{Email: "a@b.com", Password: "wrong-password"})
	_, unknownEmail := f.svc.Login(ctx, LoginInput{Email: "nobody@b.com", Password: "wrong-password"})

	require.ErrorIs(t, wrongPassword, domain.ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, domain.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword, unknownEmail)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, LoginInput{Email: "A@B.COM", Password: "Passw0rd!"})
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, res.User.ID)
	assert.Empty(t, res.User.PasswordHash)

	user, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, user.ID)

	_, err = f.svc.Login(ctx, LoginInput{Email: "a@b.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestAuthenticate_StaleAfterPasswordChange(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	f.clock.Advance(5 * time.Second)
	updated, err := f.svc.UpdatePassword(ctx, res.User.ID, UpdatePasswordInput{
		PasswordCurrent: "Passw0rd!",
		Password:        "N3wPassword!",
		PasswordConfirm: "N3wPassword!",
	})
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, domain.ErrStaleSession)

	user, err := f.svc.Authenticate(ctx, updated.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)

	_, err = f.svc.Login(ctx, LoginInput{Email: "a@b.com", Password: "Passw0rd!"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, LoginInput{Email: "a@b.com", Password: "N3wPassword!"})
	assert.NoError(t, err)
}

func TestAuthenticate_StaleWithinSameSecond(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	f.clock.Advance(1500 * time.Millisecond)
	updated, err := f.svc.UpdatePassword(ctx, res.User.ID, UpdatePasswordInput{
		PasswordCurrent: "Passw0rd!",
		Password:        "N3wPassword!",
		PasswordConfirm: "N3wPassword!",
	})
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, domain.ErrStaleSession)

	_, err = f.svc.Authenticate(ctx, updated.Token)
	assert.NoError(t, err)
}

func TestUpdatePassword_WrongCurrent(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)

	_, err := f.svc.UpdatePassword(context.Background(), res.User.ID, UpdatePasswordInput{
		PasswordCurrent: "not-it",
		Password:        "N3wPassword!",
		PasswordConfirm: "N3wPassword!",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrentPassword)
}

func TestResetPassword_RoundTripOnce(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "A@b.com"))
	token := f.notifier.lastResetToken()
	require.Len(t, token, 64)

	stored, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, HashResetToken(token), stored.PasswordResetTokenHash)
	assert.NotEqual(t, token, stored.PasswordResetTokenHash)

	f.clock.Advance(5 * time.Second)
	in := ResetPasswordInput{Password: "R3setPassword!", PasswordConfirm: "R3setPassword!"}
	reset, err := f.svc.ResetPassword(ctx, token, in)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, reset.User.ID)
	assert.Empty(t, reset.User.PasswordHash)

	_, err = f.svc.Authenticate(ctx, reset.Token)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, domain.ErrStaleSession)

	_, err = f.svc.ResetPassword(ctx, token, in)
	assert.ErrorIs(t, err, domain.ErrTokenInvalidOrExpired)

	_, err = f.svc.Login(ctx, LoginInput{Email: "a@b.com", Password: "R3setPassword!"})
	assert.NoError(t, err)
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t)
	f.signup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))
	f.clock.Advance(10*time.Minute + time.Second)

	_, err := f.svc.ResetPassword(ctx, f.notifier.lastResetToken(), ResetPasswordInput{
		Password: "R3setPassword!", PasswordConfirm: "R3setPassword!",
	})
	assert.ErrorIs(t, err, domain.ErrTokenInvalidOrExpired)
}

func TestResetPassword_UnknownToken(t *testing.T) {
	f := newFixture(t)
	f.signup(t)

	_, err := f.svc.ResetPassword(context.Background(), "deadbeef", ResetPasswordInput{
		Password: "R3setPassword!", PasswordConfirm: "R3setPassword!",
	})
	assert.ErrorIs(t, err, domain.ErrTokenInvalidOrExpired)
}

func TestForgotPassword_DispatchFailureClearsToken(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	f.notifier.failReset = errors.New("smtp down")

	err := f.svc.ForgotPassword(context.Background(), "a@b.com")
	require.ErrorIs(t, err, domain.ErrNotificationFailure)

	stored, err := f.users.GetByID(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PasswordResetTokenHash)
	assert.Nil(t, stored.PasswordResetExpires)
}

func TestForgotPassword_RollbackKeepsNewerToken(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	f.notifier.failReset = errors.New("smtp down")
	f.notifier.onReset = func() {
		u, err := f.users.GetByID(ctx, res.User.ID)
		require.NoError(t, err)
		u.PasswordResetTokenHash = HashResetToken("newer")
		require.NoError(t, f.users.Save(ctx, u, repository.SaveOptions{}))
	}

	err := f.svc.ForgotPassword(ctx, "a@b.com")
	require.ErrorIs(t, err, domain.ErrNotificationFailure)

	stored, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, HashResetToken("newer"), stored.PasswordResetTokenHash)
}

func TestForgotPassword_RetriesLostRace(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	f.svc.users = &flakyUsers{MemoryUsers: f.users, conflicts: 1}
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@b.com"))

	stored, err := f.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, HashResetToken(f.notifier.lastResetToken()), stored.PasswordResetTokenHash)

	f.svc.users = &flakyUsers{MemoryUsers: f.users, conflicts: 2}
	assert.ErrorIs(t, f.svc.ForgotPassword(ctx, "a@b.com"), domain.ErrConflict)
}

func TestUpdatePassword_RetriesLostRace(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()
	in := UpdatePasswordInput{
		PasswordCurrent: "Passw0rd!",
		Password:        "N3wPassword!",
		PasswordConfirm: "N3wPassword!",
	}

	f.svc.users = &flakyUsers{MemoryUsers: f.users, conflicts: 2}
	_, err := f.svc.UpdatePassword(ctx, res.User.ID, in)
	assert.ErrorIs(t, err, domain.ErrConflict)

	f.svc.users = &flakyUsers{MemoryUsers: f.users, conflicts: 1}
	_, err = f.svc.UpdatePassword(ctx, res.User.ID, in)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginInput{Email: "a@b.com", Password: "N3wPassword!"})
	assert.NoError(t, err)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ForgotPassword(context.Background(), "nobody@b.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	concealed := newFixture(t, func(c *ServiceConfig) { c.ConcealUnknownEmail = true })
	assert.NoError(t, concealed.svc.ForgotPassword(context.Background(), "nobody@b.com"))
	assert.Empty(t, concealed.notifier.resetURLs)

	assert.ErrorIs(t, f.svc.ForgotPassword(context.Background(), " "), domain.ErrValidation)
}

func TestResendCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t)

	f.clock.Advance(11 * time.Minute)
	out, err := f.svc.ResendCode(ctx, res.User.ID)
	require.NoError(t, err)
	assert.False(t, out.Snapshot.EmailCodeExpired)
	require.Len(t, f.notifier.emailCodes, 2)

	_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})
	require.NoError(t, err)

	out, err = f.svc.ResendCode(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateMobilePending, out.Stage)
	assert.Len(t, f.notifier.mobileCodes, 2)

	f.notifier.failMobile = errors.New("queue down")
	_, err = f.svc.ResendCode(ctx, res.User.ID)
	assert.ErrorIs(t, err, domain.ErrNotificationFailure)
}

func TestChangeMobile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t)
	in := MobileInput{Mobile: " +351912345678 "}

	_, err := f.svc.ChangeMobile(ctx, res.User.ID, in)
	assert.ErrorIs(t, err, domain.ErrValidation, "email not verified yet")

	_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: f.notifier.lastEmailCode()})
	require.NoError(t, err)
	firstCode := f.notifier.lastMobileCode()

	_, err = f.svc.ChangeMobile(ctx, res.User.ID, MobileInput{Mobile: "912345678"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	out, err := f.svc.ChangeMobile(ctx, res.User.ID, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StateMobilePending, out.Stage)
	assert.Equal(t, "+351912345678", out.User.Mobile)
	require.Len(t, f.notifier.mobileCodes, 2)

	if firstCode != f.notifier.lastMobileCode() {
		_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: firstCode})
		assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	}
	_, err = f.svc.Verify(ctx, res.User.ID, VerifyInput{Code: f.notifier.lastMobileCode()})
	require.NoError(t, err)

	status, err := f.svc.Status(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDetailsPending, status.Snapshot.State)

	_, err = f.svc.ChangeMobile(ctx, res.User.ID, in)
	assert.ErrorIs(t, err, domain.ErrValidation, "mobile already verified")
}

func TestResendCode_FullyVerifiedIsNoop(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	f.verifyAll(t, res.User.ID)

	before := f.users.Writes()
	out, err := f.svc.ResendCode(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.True(t, out.Snapshot.FullyVerified)
	assert.Equal(t, before, f.users.Writes())
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Deactivate(ctx, res.User.ID))

	_, err := f.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.svc.Login(ctx, LoginInput{Email: "a@b.com", Password: "Passw0rd!"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.Status(ctx, res.User.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}
