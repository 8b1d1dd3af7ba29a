package routes

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/infra/config"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/handlers"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
)

var errStarting = errors.New("starting")

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Devices     middleware.DeviceResolver
	Bearer      middleware.BearerParser
	Relay       handlers.RelayPinger
	HTTPMetrics *middleware.HTTPMetrics
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Database DatabaseChecker
	Cache    CacheChecker
	// Ready reports whether background services finished starting.
	Ready func() bool
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Scope())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSPolicy{
		Storefront: deps.Config.App.AllowedOrigins,
		Admin:      deps.Config.App.AdminOrigins,
	}))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, 3)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	if deps.Ready != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("startup", func(context.Context) error {
			if !deps.Ready() {
				return errStarting
			}
			return nil
		}))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// The admin console routes stay undocumented in production.
	if deps.Config.App.Env != "production" {
		handlers.RegisterSwagger(r)
	}

	if deps.Devices == nil {
		return r
	}

	api := r.Group("/api/v1")
	{
		requireDevice := middleware.RequireDevice(deps.Devices)

		customerGroup := api.Group("/customer", requireDevice)
		handlers.NewCustomerHandler().RegisterRoutes(customerGroup, handlers.CustomerRouteLimits{
			Signup:        buildIPMiddlewares(deps, "customer_signup_ip", deps.Config.RateLimit.SignupMaxAttempts),
			Login:         buildIPMiddlewares(deps, "customer_login_ip", deps.Config.RateLimit.LoginMaxAttempts),
			Verify:        buildVerifyMiddlewares(deps),
			PasswordReset: buildIPMiddlewares(deps, "password_reset_ip", deps.Config.RateLimit.PasswordResetMaxAttempts),
		})

		adminOptions := handlers.AdminRouteOptions{
			Device: requireDevice,
			Login:  buildIPMiddlewares(deps, "admin_login_ip", deps.Config.RateLimit.LoginMaxAttempts),
		}
		if deps.Bearer != nil {
			adminOptions.Bearer = middleware.RequireAdminBearer(deps.Bearer, deps.Config.Auth.AdminAccountID)
		}
		handlers.NewAdminHandler(deps.Relay).RegisterRoutes(api.Group("/admin"), adminOptions)
	}

	return r
}

func rateLimitWindow(deps Dependencies) time.Duration {
	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}
	return window
}

func buildIPMiddlewares(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     rateLimitWindow(deps),
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

// buildVerifyMiddlewares limits code submissions per device on top of the flow's own attempt counter.
func buildVerifyMiddlewares(deps Dependencies) []gin.HandlerFunc {
	limit := deps.Config.RateLimit.VerifyMaxAttempts
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	rule := middleware.RateLimitRule{
		Name:       "customer_verify_device",
		Limit:      limit,
		Window:     rateLimitWindow(deps),
		Identifier: middleware.DeviceIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
