package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/musa-idm/internal/config"
	"github.com/tendant/musa-idm/internal/http/features/me"
	"github.com/tendant/musa-idm/internal/http/features/password"
	"github.com/tendant/musa-idm/internal/http/features/session"
	"github.com/tendant/musa-idm/internal/http/features/verify"
	"github.com/tendant/musa-idm/internal/http/middleware"
	"github.com/tendant/musa-idm/internal/httputil"
	"github.com/tendant/musa-idm/internal/metrics"
	"github.com/tendant/musa-idm/pkg/auth"
)

const healthTimeout = 2 * time.Second

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	Service         *auth.Service
	Cookie          httputil.CookieConfig
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
	// Metrics is optional. When set, requests are instrumented and
	// /metrics is served.
	Metrics *metrics.Metrics
	// HealthCheck is optional and reports storage readiness.
	HealthCheck func(ctx context.Context) error
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Cookie.Name == "" {
		cfg.Cookie = httputil.DefaultCookieConfig()
	}
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	routes := userRoutes(cfg)
	r.Group(routes)
	r.Route("/user", routes)

	return r
}

// userRoutes registers the account routes. They are mounted both at the root
// and under /user.
func userRoutes(cfg RouterConfig) func(chi.Router) {
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)
	requireAuth := middleware.Auth(cfg.Service, cfg.Cookie.Name)

	passwordHandler := password.NewHandler(cfg.Logger, cfg.Service, cfg.Cookie)
	sessionHandler := session.NewHandler(cfg.Cookie)
	verifyHandler := verify.NewHandler(cfg.Logger, cfg.Service)
	meHandler := me.NewHandler(cfg.Logger, cfg.Service, cfg.Cookie)

	return func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitAuth])
			r.Post("/signup", passwordHandler.Signup)
			r.Post("/login", passwordHandler.Login)
		})
		r.Get("/logout", sessionHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitReset])
			r.Post("/forgotPassword", passwordHandler.ForgotPassword)
			r.Patch("/resetPassword/{token}", passwordHandler.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(rateLimiters[middleware.LimitVerify])
			r.Post("/verify", verifyHandler.Verify)
			r.Post("/verify/resend", verifyHandler.Resend)
			r.Patch("/verify/mobile", verifyHandler.ChangeMobile)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(rateLimiters[middleware.LimitProfile])
			r.Patch("/updateMyPassword", passwordHandler.UpdateMyPassword)
			r.Get("/me", meHandler.GetMe)
			r.Delete("/me", meHandler.DeleteMe)
			r.Patch("/me/availability", meHandler.UpdateAvailability)
			r.Get("/talents/available", meHandler.AvailableTalents)
		})
	}
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
