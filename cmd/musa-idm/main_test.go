package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/musa-idm/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])

	migrate, _, err := cmd.Find([]string{"migrate", "up"})
	require.NoError(t, err)
	assert.Equal(t, "up", migrate.Name())
}

type fakeMigrator struct {
	upErr   error
	ups     int
	closed  bool
	version uint
	dirty   bool
}

func (f *fakeMigrator) Up() error {
	f.ups++
	return f.upErr
}

func (f *fakeMigrator) Down() error { return nil }

func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, nil }

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

func withFakeMigrator(t *testing.T, f *fakeMigrator) {
	t.Helper()
	orig := openMigrator
	openMigrator = func(string) (migrator, error) { return f, nil }
	t.Cleanup(func() { openMigrator = orig })
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", "testdata/none.env"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := runCmd(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestMigrate_Up(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/musa?sslmode=disable")
	f := &fakeMigrator{}
	withFakeMigrator(t, f)

	out, err := runCmd(t, "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, 1, f.ups)
	assert.True(t, f.closed)
	assert.Contains(t, out, "Migrations completed successfully")
}

func TestMigrate_UpFailure(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/musa?sslmode=disable")
	f := &fakeMigrator{upErr: errors.New("boom")}
	withFakeMigrator(t, f)

	_, err := runCmd(t, "migrate", "up")
	require.Error(t, err)
	assert.True(t, f.closed)
}

func TestMigrate_Version(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/musa?sslmode=disable")
	withFakeMigrator(t, &fakeMigrator{version: 1, dirty: true})

	out, err := runCmd(t, "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1 (dirty)")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		logger := newLogger(tt.level)
		assert.True(t, logger.Enabled(context.Background(), tt.want), tt.level)
		if tt.want > slog.LevelDebug {
			assert.False(t, logger.Enabled(context.Background(), tt.want-1), tt.level)
		}
	}
}

func TestBuildApp_InMemory(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:              "0123456789abcdef0123456789abcdef",
		JWTIssuer:              "musa-idm",
		JWTExpiresIn:           time.Hour,
		CookieExpiresDays:      90,
		VerificationCodeLength: 5,
		VerificationCodeTTL:    10 * time.Minute,
		PasswordResetTTL:       10 * time.Minute,
		BcryptCost:             4,
		AppBaseURL:             "http://localhost:8080",
		PasswordPolicy:         config.PasswordPolicyConfig{MinLength: 8},
		Validation:             config.ValidationConfig{MaxRequestBodySize: 1 << 20},
		Notification:           config.NotificationConfig{EmailProvider: "log", SMSProvider: "log"},
		MetricsEnabled:         true,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := buildApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	body := `{"name":"Ann Lee","email":"a@b.com","password":"Passw0rd!","passwordConfirm":"Passw0rd!"}`
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
