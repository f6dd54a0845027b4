// Package idm provides the musa identity and verification service as a
// mountable library: signup and login with email and password, a staged
// email, mobile and details verification flow, and password recovery.
//
// Setup:
//
//  1. Run migrations with `musa-idm migrate up` (or let New run them with
//     Config.AutoMigrate)
//  2. Create IDM instance and mount routes
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	users, err := idm.New(idm.Config{
//	    DB:        db,
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	    Notifier:  myNotifier,
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/user", users.Router())
//	http.ListenAndServe(":8080", r)
//
// Without a DB the users are kept in memory, which is only useful for tests
// and local development.
package idm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/musa-idm/internal/config"
	httpserver "github.com/tendant/musa-idm/internal/http"
	"github.com/tendant/musa-idm/internal/http/middleware"
	"github.com/tendant/musa-idm/internal/httputil"
	"github.com/tendant/musa-idm/internal/notification"
	"github.com/tendant/musa-idm/pkg/auth"
	"github.com/tendant/musa-idm/pkg/domain"
	"github.com/tendant/musa-idm/pkg/repository"
)

// Config holds the configuration for the IDM library.
type Config struct {
	// DB is the database connection. When nil an in-memory store is used.
	DB *sql.DB

	// AutoMigrate applies the embedded migrations to DatabaseURL before the
	// schema check.
	AutoMigrate bool
	DatabaseURL string

	// JWTSecret is the secret key for signing JWT tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in JWT tokens (default: "musa-idm").
	JWTIssuer string

	// TokenTTL is the lifetime of session tokens (default: 90 days).
	TokenTTL time.Duration

	// Cookie settings for browser clients.
	CookieDomain     string
	CookieSecure     bool
	CookieExpireDays int

	// Verification and recovery tunables. Zero values use the defaults of
	// package auth.
	CodeLength int
	CodeTTL    time.Duration
	ResetTTL   time.Duration
	BcryptCost int

	// ResetURLBase is the prefix of reset links, e.g.
	// "https://musa.example/user/resetPassword/".
	ResetURLBase string

	// ConcealUnknownEmail makes forgot-password answer unknown emails like
	// known ones.
	ConcealUnknownEmail bool

	// MinPasswordLength is the minimum password length (default: 8).
	MinPasswordLength int

	// Notifier delivers codes and reset links. When nil they are only logged.
	Notifier auth.Notifier

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// User is the public view of an account.
type User = domain.PublicUser

// IDM is the main identity management instance.
type IDM struct {
	config  Config
	db      *sql.DB
	users   auth.UserRepository
	service *auth.Service
	cookie  httputil.CookieConfig
}

// New creates a new IDM instance with the given configuration.
// With a DB it returns an error if the users table doesn't exist.
func New(cfg Config) (*IDM, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	var users auth.UserRepository
	if cfg.DB != nil {
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		if err := validateSchema(cfg.DB); err != nil {
			return nil, err
		}
		users = repository.NewUsersRepository(cfg.DB)
	} else {
		cfg.Logger.Warn("idm: no DB configured, users are kept in memory")
		users = repository.NewMemoryUsers()
	}

	service := auth.NewService(
		auth.ServiceConfig{
			CodeLength:          cfg.CodeLength,
			CodeTTL:             cfg.CodeTTL,
			ResetTTL:            cfg.ResetTTL,
			ResetURLBase:        cfg.ResetURLBase,
			ConcealUnknownEmail: cfg.ConcealUnknownEmail,
		},
		users,
		cfg.Notifier,
		auth.NewCredentialStore(cfg.BcryptCost, nil),
		auth.NewTokenCodec(auth.TokenConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
			TTL:    cfg.TokenTTL,
		}),
		&auth.PasswordPolicy{MinLength: cfg.MinPasswordLength},
		cfg.Logger,
	)

	cookie := httputil.DefaultCookieConfig()
	cookie.Domain = cfg.CookieDomain
	cookie.Secure = cfg.CookieSecure
	cookie.ExpireDays = cfg.CookieExpireDays

	return &IDM{
		config:  cfg,
		db:      cfg.DB,
		users:   users,
		service: service,
		cookie:  cookie,
	}, nil
}

// Router returns a chi router with all account routes. Rate limiting is left
// to the host application.
//
// Routes:
//
//	POST   /signup
//	POST   /login
//	GET    /logout
//	POST   /forgotPassword
//	PATCH  /resetPassword/{token}
//	PATCH  /updateMyPassword
//	POST   /verify
//	POST   /verify/resend
//	GET    /me
//	DELETE /me
//	GET    /health
func (i *IDM) Router() chi.Router {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          i.config.Logger,
		Service:         i.service,
		Cookie:          i.cookie,
		SecurityHeaders: config.SecurityHeadersConfig{Enabled: false},
		HealthCheck:     i.healthCheck(),
	})
}

// Service exposes the verification service for direct use.
func (i *IDM) Service() *auth.Service {
	return i.service
}

// AuthMiddleware returns middleware that requires a valid session.
// Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(users.AuthMiddleware())
//	    r.Get("/protected", handler)
//	})
func (i *IDM) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(i.service, i.cookie.Name)
}

// RequireFullyVerified returns middleware that only lets fully verified users
// through. Use it after AuthMiddleware.
func (i *IDM) RequireFullyVerified() func(http.Handler) http.Handler {
	return middleware.RequireFullyVerified()
}

// GetUserID extracts the user ID from a request.
// Use after AuthMiddleware:
//
//	userID, ok := idm.GetUserID(r)
func GetUserID(r *http.Request) (string, bool) {
	id, ok := middleware.GetUserID(r.Context())
	if !ok {
		return "", false
	}
	return id.String(), true
}

// GetUserIDFromContext extracts the user ID from a context.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return middleware.GetUserID(ctx)
}

// GetUser returns the authenticated user of a request.
// Use after AuthMiddleware:
//
//	user, err := users.GetUser(r)
func (i *IDM) GetUser(r *http.Request) (*User, error) {
	u, ok := middleware.GetUser(r.Context())
	if !ok {
		return nil, errors.New("user not authenticated")
	}
	public := u.Public()
	return &public, nil
}

// HealthHandler returns a health check handler that also pings the DB.
func (i *IDM) HealthHandler() http.HandlerFunc {
	check := i.healthCheck()
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Handler returns an http.Handler for mounting with http.StripPrefix.
// This is useful when using standard library ServeMux:
//
//	mux := http.NewServeMux()
//	mux.Handle("/user/", http.StripPrefix("/user", users.Handler()))
func (i *IDM) Handler() http.Handler {
	return i.Router()
}

// Routes registers all routes on an http.ServeMux with the given prefix.
//
//	mux := http.NewServeMux()
//	users.Routes(mux, "/api/v1/user")
func (i *IDM) Routes(mux *http.ServeMux, prefix string) {
	mux.Handle(prefix+"/", http.StripPrefix(prefix, i.Router()))
}

func (i *IDM) healthCheck() func(ctx context.Context) error {
	if i.db == nil {
		return nil
	}
	return i.db.PingContext
}

func validateConfig(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("idm: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("idm: JWTSecret must be at least 32 characters")
	}
	if cfg.AutoMigrate && cfg.DatabaseURL == "" {
		return errors.New("idm: DatabaseURL is required with AutoMigrate")
	}
	if cfg.CodeLength != 0 && (cfg.CodeLength < 4 || cfg.CodeLength > 9) {
		return errors.New("idm: CodeLength must be between 4 and 9")
	}
	return nil
}

func applyDefaults(cfg *Config) error {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = auth.DefaultIssuer
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = auth.DefaultTokenTTL
	}
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = auth.DefaultCodeTTL
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = auth.DefaultResetTTL
	}
	if cfg.CookieExpireDays == 0 {
		cfg.CookieExpireDays = httputil.DefaultCookieConfig().ExpireDays
	}
	if cfg.MinPasswordLength == 0 {
		cfg.MinPasswordLength = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if cfg.Notifier == nil {
		log := notification.NewLogSender(cfg.Logger)
		d, err := notification.NewDispatcher(notification.DispatcherConfig{
			CodeTTL:  cfg.CodeTTL,
			ResetTTL: cfg.ResetTTL,
		}, log, log, nil, cfg.Logger)
		if err != nil {
			return fmt.Errorf("idm: %w", err)
		}
		cfg.Notifier = d
	}
	return nil
}

func migrateUp(databaseURL string) error {
	m, err := repository.NewMigrator(databaseURL)
	if err != nil {
		return fmt.Errorf("idm: %w", err)
	}
	defer func() { _ = m.Close() }()
	if err := m.Up(); err != nil {
		return fmt.Errorf("idm: apply migrations: %w", err)
	}
	return nil
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB) error {
	requiredTables := []string{"users", "user_availability"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("idm: missing table '%s' - run migrations first (musa-idm migrate up)", table)
		}
		if err != nil {
			return fmt.Errorf("idm: failed to check schema: %w", err)
		}
	}

	return nil
}
