package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int
	Env        string
	AppBaseURL string
	LogLevel   string

	// Database. An empty URL selects the in-memory store.
	DatabaseURL    string
	DBMaxOpenConns int
	DBConnRetries  int
	AutoMigrate    bool

	// Session tokens
	JWTSecret         string
	JWTIssuer         string
	JWTExpiresIn      time.Duration
	CookieExpiresDays int

	// Secrets
	VerificationCodeLength int
	VerificationCodeTTL    time.Duration
	PasswordResetTTL       time.Duration
	BcryptCost             int

	// ForgotPasswordConcealUnknown answers forgot-password for unknown emails
	// the same way as for known ones instead of with 404.
	ForgotPasswordConcealUnknown bool

	PasswordPolicy  PasswordPolicyConfig
	Validation      ValidationConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Notification    NotificationConfig
	MetricsEnabled  bool
}

// PasswordPolicyConfig holds password complexity requirements.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// ValidationConfig holds input validation settings.
type ValidationConfig struct {
	BlockDisposableEmail bool
	MaxRequestBodySize   int64
}

// RateLimitConfig holds per-route-group request limits.
type RateLimitConfig struct {
	Enabled                  bool
	AuthRequestsPerMinute    int
	AuthWindowMinutes        int
	ResetRequestsPerWindow   int
	ResetWindowMinutes       int
	VerifyRequestsPerWindow  int
	VerifyWindowMinutes      int
	ProfileRequestsPerMinute int
	ProfileWindowMinutes     int
}

// SecurityHeadersConfig holds response security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// NotificationConfig selects and configures outbound delivery.
type NotificationConfig struct {
	// EmailProvider is one of smtp, mailgun, queue, log.
	EmailProvider string
	// SMSProvider is one of queue, log.
	SMSProvider string
	Retries     int
	RetryBase   time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	MailgunDomain string
	MailgunAPIKey string
	MailgunSender string

	RabbitMQURL string
	EmailQueue  string
	SMSQueue    string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Env:        getEnv("APP_ENV", "development"),
		AppBaseURL: strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBConnRetries:  getEnvInt("DB_CONNECT_RETRIES", 5),
		AutoMigrate:    getEnvBool("DB_AUTO_MIGRATE", false),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", "musa-idm"),
		JWTExpiresIn:      getEnvDuration("JWT_EXPIRES_IN", 90*24*time.Hour),
		CookieExpiresDays: getEnvInt("JWT_COOKIE_EXPIRES_IN", 90),

		VerificationCodeLength: getEnvInt("VERIFICATION_CODE_LENGTH", 5),
		VerificationCodeTTL:    getEnvDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
		PasswordResetTTL:       getEnvDuration("PASSWORD_RESET_TTL", 10*time.Minute),
		BcryptCost:             getEnvInt("BCRYPT_COST", 12),

		ForgotPasswordConcealUnknown: getEnvBool("FORGOT_PASSWORD_CONCEAL_UNKNOWN", false),

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", false),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", false),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", false),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},
		Validation: ValidationConfig{
			BlockDisposableEmail: getEnvBool("BLOCK_DISPOSABLE_EMAIL", false),
			MaxRequestBodySize:   int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:    getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:        getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			ResetRequestsPerWindow:   getEnvInt("RATE_LIMIT_RESET_REQUESTS", 5),
			ResetWindowMinutes:       getEnvInt("RATE_LIMIT_RESET_WINDOW_MINUTES", 15),
			VerifyRequestsPerWindow:  getEnvInt("RATE_LIMIT_VERIFY_REQUESTS", 10),
			VerifyWindowMinutes:      getEnvInt("RATE_LIMIT_VERIFY_WINDOW_MINUTES", 10),
			ProfileRequestsPerMinute: getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 60),
			ProfileWindowMinutes:     getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 0),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "no-referrer"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", ""),
		},
		Notification: NotificationConfig{
			EmailProvider: getEnv("EMAIL_PROVIDER", "log"),
			SMSProvider:   getEnv("SMS_PROVIDER", "log"),
			Retries:       getEnvInt("NOTIFY_RETRIES", 2),
			RetryBase:     getEnvDuration("NOTIFY_RETRY_BASE", 200*time.Millisecond),

			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvInt("SMTP_PORT", 587),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:     getEnv("SMTP_FROM", ""),
			SMTPFromName: getEnv("SMTP_FROM_NAME", "Musa"),

			MailgunDomain: getEnv("MAILGUN_DOMAIN", ""),
			MailgunAPIKey: getEnv("MAILGUN_API_KEY", ""),
			MailgunSender: getEnv("MAILGUN_SENDER", ""),

			RabbitMQURL: getEnv("RABBITMQ_URL", ""),
			EmailQueue:  getEnv("RABBITMQ_EMAIL_QUEUE", "email_jobs"),
			SMSQueue:    getEnv("RABBITMQ_SMS_QUEUE", "sms_jobs"),
		},
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.VerificationCodeLength < 4 || c.VerificationCodeLength > 9 {
		return fmt.Errorf("VERIFICATION_CODE_LENGTH must be between 4 and 9")
	}
	if c.CookieExpiresDays <= 0 {
		return fmt.Errorf("JWT_COOKIE_EXPIRES_IN must be positive")
	}

	n := c.Notification
	switch n.EmailProvider {
	case "log", "queue":
	case "smtp":
		if n.SMTPHost == "" || n.SMTPFrom == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required for EMAIL_PROVIDER=smtp")
		}
	case "mailgun":
		if n.MailgunDomain == "" || n.MailgunAPIKey == "" || n.MailgunSender == "" {
			return fmt.Errorf("MAILGUN_DOMAIN, MAILGUN_API_KEY and MAILGUN_SENDER are required for EMAIL_PROVIDER=mailgun")
		}
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", n.EmailProvider)
	}
	switch n.SMSProvider {
	case "log", "queue":
	default:
		return fmt.Errorf("unknown SMS_PROVIDER %q", n.SMSProvider)
	}
	if (n.EmailProvider == "queue" || n.SMSProvider == "queue") && n.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required for the queue provider")
	}
	return nil
}

// IsProduction reports whether cookies must be sent with the Secure flag.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasDatabase returns true if a PostgreSQL URL is configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// ResetURLBase is the prefix the plaintext reset token is appended to.
func (c *Config) ResetURLBase() string {
	return c.AppBaseURL + "/user/resetPassword/"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
