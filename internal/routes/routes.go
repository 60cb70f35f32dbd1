package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/auth"
	"github.com/congo-pay/rewards_auth/internal/backend"
	"github.com/congo-pay/rewards_auth/internal/config"
	"github.com/congo-pay/rewards_auth/internal/logging"
	"github.com/congo-pay/rewards_auth/internal/middleware"
	"github.com/congo-pay/rewards_auth/internal/notification"
	"github.com/congo-pay/rewards_auth/internal/otp"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/points"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	// Optional overrides, used by tests.
	Clock    func() time.Time
	Codes    otp.CodeSource
	Notifier notification.Notifier
}

// NewBackend builds the backend service. Without a database or Redis the
// in-memory stores are used, which is only allowed in development.
func NewBackend(d Deps) (*backend.Service, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}

	phones := phone.NewValidator(d.Cfg.CountryCode)

	var (
		accountRepo account.Repository
		ledger      points.Ledger
	)
	if d.DB != nil {
		accountRepo = account.NewPostgresRepository(d.DB)
		ledger = points.NewPostgresLedger(d.DB)
	} else {
		accountRepo = account.NewMemoryRepository()
		ledger = points.NewInMemory()
	}
	if err := ledger.EnsureAccount(context.Background(), points.IssuerAccountCode); err != nil {
		return nil, fmt.Errorf("open issuer account: %w", err)
	}

	var (
		challenges otp.Store
		resets     backend.ResetTokens
	)
	if d.Cache != nil {
		challenges = otp.NewRedisStore(d.Cache, d.Cfg.OTP.Retention)
		resets = backend.NewRedisResetTokens(d.Cache, d.Cfg.ResetTokenTTL)
	} else {
		challenges = otp.NewMemoryStore()
		resets = backend.NewMemoryResetTokens(d.Cfg.ResetTokenTTL, clock)
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logging.Component(d.Logger, "notification"), d.Cfg.IsDevelopment())
	}
	otpOpts := []otp.Option{
		otp.WithClock(clock),
		otp.WithSender(notification.NewOTPSender(notifier, d.Cfg.AppName)),
		otp.WithLogger(logging.Component(d.Logger, "otp")),
	}
	if d.Codes != nil {
		otpOpts = append(otpOpts, otp.WithCodeSource(d.Codes))
	}
	otps := otp.NewService(challenges, otp.Config{
		Validity:    d.Cfg.OTP.Validity,
		Cooldown:    d.Cfg.OTP.Cooldown,
		Retention:   d.Cfg.OTP.Retention,
		MaxAttempts: d.Cfg.OTP.MaxAttempts,
		CodeLength:  d.Cfg.OTP.CodeLength,
		HashCost:    d.Cfg.OTP.HashCost,
	}, otpOpts...)

	var admins []phone.Number
	for _, raw := range d.Cfg.AdminPhones {
		p, err := phones.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_PHONES: %q: %w", raw, err)
		}
		admins = append(admins, p)
	}
	accounts := account.NewService(accountRepo, d.Cfg.PasswordCost).WithAdmins(admins...)
	tokens := auth.NewTokens(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL, clock)

	return backend.NewService(backend.Deps{
		Phones:   phones,
		OTP:      otps,
		Accounts: accounts,
		Auth:     auth.NewService(tokens, accounts, phones, logging.Component(d.Logger, "auth")),
		Points:   points.NewService(ledger, logging.Component(d.Logger, "points")),
		Resets:   resets,
		Logger:   logging.Component(d.Logger, "backend"),
	}), nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*backend.Service, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	svc, err := NewBackend(d)
	if err != nil {
		return nil, err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.LogFormat == "text" {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDHeader).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterBackendRoutes(api, backend.NewHandler(svc), RouteDeps{
		Limiter:     middleware.PhoneRateLimit(d.Cache, phone.NewValidator(d.Cfg.CountryCode), d.Cfg.LoginPerMinute, d.Logger),
		Idempotency: middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
		Bearer:      middleware.Bearer(svc),
	})
	return svc, nil
}
