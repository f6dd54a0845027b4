package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/musa-idm/internal/config"
	"github.com/tendant/musa-idm/internal/httputil"
)

// Rate limiter groups.
const (
	LimitAuth    = "auth"
	LimitReset   = "reset"
	LimitVerify  = "verify"
	LimitProfile = "profile"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "too many requests from this IP, please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return passthrough
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// CreateRateLimiters creates one limiter per endpoint group.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	groups := map[string]RateLimitConfig{
		LimitAuth: {
			Requests: cfg.AuthRequestsPerMinute,
			Window:   time.Duration(cfg.AuthWindowMinutes) * time.Minute,
		},
		LimitReset: {
			Requests: cfg.ResetRequestsPerWindow,
			Window:   time.Duration(cfg.ResetWindowMinutes) * time.Minute,
		},
		LimitVerify: {
			Requests: cfg.VerifyRequestsPerWindow,
			Window:   time.Duration(cfg.VerifyWindowMinutes) * time.Minute,
		},
		LimitProfile: {
			Requests: cfg.ProfileRequestsPerMinute,
			Window:   time.Duration(cfg.ProfileWindowMinutes) * time.Minute,
		},
	}

	limiters := make(map[string]func(http.Handler) http.Handler, len(groups))
	for name, group := range groups {
		if !cfg.Enabled || group.Requests <= 0 || group.Window <= 0 {
			limiters[name] = NoRateLimit()
			continue
		}
		group.Logger = logger
		limiters[name] = RateLimit(group)
	}
	return limiters
}
