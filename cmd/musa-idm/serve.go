package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/tendant/musa-idm/internal/config"
	httpserver "github.com/tendant/musa-idm/internal/http"
	"github.com/tendant/musa-idm/internal/httputil"
	"github.com/tendant/musa-idm/internal/metrics"
	"github.com/tendant/musa-idm/internal/notification"
	"github.com/tendant/musa-idm/pkg/auth"
	"github.com/tendant/musa-idm/pkg/repository"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. Without DATABASE_URL users are kept in memory,
which is only suitable for local development.`,
		RunE: runServe,
	}
}

// app is everything the server needs, built from configuration.
type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load configuration").Wrap(err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return oops.Code("SERVER_FAILED").With("addr", addr).Wrap(err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	var (
		users       auth.UserRepository
		healthCheck func(context.Context) error
	)
	if cfg.HasDatabase() {
		if cfg.AutoMigrate {
			if err := autoMigrate(cfg.DatabaseURL, logger); err != nil {
				return nil, err
			}
		}
		db, err := repository.NewDB(ctx, repository.Config{
			URL:            cfg.DatabaseURL,
			MaxOpenConns:   cfg.DBMaxOpenConns,
			ConnectRetries: uint64(max(cfg.DBConnRetries, 0)),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		logger.Info("connected to database")
		users = repository.NewUsersRepository(db)
		healthCheck = db.PingContext
	} else {
		logger.Warn("DATABASE_URL not set, users are kept in memory")
		users = repository.NewMemoryUsers()
	}

	senders, err := notification.NewSenders(cfg.Notification, logger)
	if err != nil {
		_ = a.Close()
		return nil, oops.Code("NOTIFICATION_INIT_FAILED").With("operation", "build senders").Wrap(err)
	}
	a.closers = append(a.closers, senders.Close)

	var recorder notification.Recorder
	if m != nil {
		recorder = m
	}
	dispatcher, err := notification.NewDispatcher(notification.DispatcherConfig{
		CodeTTL:   cfg.VerificationCodeTTL,
		ResetTTL:  cfg.PasswordResetTTL,
		Retries:   uint64(max(cfg.Notification.Retries, 0)),
		RetryBase: cfg.Notification.RetryBase,
	}, senders.Email, senders.SMS, recorder, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	service := auth.NewService(
		auth.ServiceConfig{
			CodeLength:           cfg.VerificationCodeLength,
			CodeTTL:              cfg.VerificationCodeTTL,
			ResetTTL:             cfg.PasswordResetTTL,
			ResetURLBase:         cfg.ResetURLBase(),
			ConcealUnknownEmail:  cfg.ForgotPasswordConcealUnknown,
			BlockDisposableEmail: cfg.Validation.BlockDisposableEmail,
		},
		users,
		dispatcher,
		auth.NewCredentialStore(cfg.BcryptCost, nil),
		auth.NewTokenCodec(auth.TokenConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
			TTL:    cfg.JWTExpiresIn,
		}),
		auth.NewPasswordPolicy(cfg.PasswordPolicy),
		logger,
	)
	if m != nil {
		service.SetObserver(m)
	}

	cookie := httputil.DefaultCookieConfig()
	cookie.Secure = cfg.IsProduction()
	cookie.ExpireDays = cfg.CookieExpiresDays

	a.handler = httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          logger,
		Service:         service,
		Cookie:          cookie,
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		Validation:      cfg.Validation,
		Metrics:         m,
		HealthCheck:     healthCheck,
	})
	return a, nil
}

func autoMigrate(databaseURL string, logger *slog.Logger) error {
	m, err := openMigrator(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto migrate").Wrap(err)
	}
	version, _, err := m.Version()
	if err == nil {
		logger.Info("database schema up to date", "version", version)
	}
	return nil
}
