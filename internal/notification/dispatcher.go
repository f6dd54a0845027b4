package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tendant/musa-idm/pkg/domain"
)

// Notification kinds, used as metric labels.
const (
	KindEmailVerification  = "email_verification"
	KindMobileVerification = "mobile_verification"
	KindWelcome            = "welcome"
	KindPasswordReset      = "password_reset"
)

var errNoMobile = errors.New("notification: user has no mobile number")

// Recorder is told about the outcome of every notification.
type Recorder interface {
	NotificationSent(kind string, err error)
}

// DispatcherConfig controls message content and delivery retries.
type DispatcherConfig struct {
	AppName   string
	CodeTTL   time.Duration
	ResetTTL  time.Duration
	Retries   uint64
	RetryBase time.Duration
}

// Dispatcher renders verification, welcome and reset messages and hands them
// to the configured senders, retrying transient failures with exponential
// backoff.
type Dispatcher struct {
	config   DispatcherConfig
	email    EmailSender
	sms      SMSSender
	render   *renderer
	recorder Recorder
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(config DispatcherConfig, email EmailSender, sms SMSSender, recorder Recorder, logger *slog.Logger) (*Dispatcher, error) {
	r, err := newRenderer()
	if err != nil {
		return nil, err
	}
	if config.AppName == "" {
		config.AppName = "Musa"
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		config:   config,
		email:    email,
		sms:      sms,
		render:   r,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// SendEmailVerification emails the pending email code of user.
func (d *Dispatcher) SendEmailVerification(ctx context.Context, user *domain.User) error {
	msg, err := d.render.email("verify_email", user.Email, d.data(user, func(t *templateData) {
		t.Code = user.EmailVerificationCode
		t.ExpiresIn = humanDuration(d.config.CodeTTL)
	}))
	if err != nil {
		return err
	}
	return d.deliver(ctx, KindEmailVerification, func(ctx context.Context) error {
		return d.email.SendEmail(ctx, msg)
	})
}

// SendMobileVerification texts the pending mobile code of user.
func (d *Dispatcher) SendMobileVerification(ctx context.Context, user *domain.User) error {
	if user.Mobile == "" {
		d.record(KindMobileVerification, errNoMobile)
		return errNoMobile
	}
	body, err := d.render.execText("mobile_code.txt", d.data(user, func(t *templateData) {
		t.Code = user.MobileVerificationCode
		t.ExpiresIn = humanDuration(d.config.CodeTTL)
	}))
	if err != nil {
		return err
	}
	msg := SMS{To: user.Mobile, Body: body}
	return d.deliver(ctx, KindMobileVerification, func(ctx context.Context) error {
		return d.sms.SendSMS(ctx, msg)
	})
}

// SendWelcome emails a welcome message once user is fully verified.
func (d *Dispatcher) SendWelcome(ctx context.Context, user *domain.User) error {
	msg, err := d.render.email("welcome", user.Email, d.data(user, nil))
	if err != nil {
		return err
	}
	return d.deliver(ctx, KindWelcome, func(ctx context.Context) error {
		return d.email.SendEmail(ctx, msg)
	})
}

// SendPasswordReset emails resetURL to user.
func (d *Dispatcher) SendPasswordReset(ctx context.Context, user *domain.User, resetURL string) error {
	msg, err := d.render.email("password_reset", user.Email, d.data(user, func(t *templateData) {
		t.ResetURL = resetURL
		t.ExpiresIn = humanDuration(d.config.ResetTTL)
	}))
	if err != nil {
		return err
	}
	return d.deliver(ctx, KindPasswordReset, func(ctx context.Context) error {
		return d.email.SendEmail(ctx, msg)
	})
}

func (d *Dispatcher) data(user *domain.User, fill func(*templateData)) templateData {
	t := templateData{AppName: d.config.AppName, FirstName: user.FirstName}
	if fill != nil {
		fill(&t)
	}
	return t
}

func (d *Dispatcher) deliver(ctx context.Context, kind string, send func(context.Context) error) error {
	backoff := retry.WithMaxRetries(d.config.Retries, retry.NewExponential(d.config.RetryBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := send(ctx); err != nil {
			d.logger.Warn("notification attempt failed", "kind", kind, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	d.record(kind, err)
	return err
}

func (d *Dispatcher) record(kind string, err error) {
	if d.recorder != nil {
		d.recorder.NotificationSent(kind, err)
	}
}
