package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sycy-station/misskey/internal/account"
	"github.com/sycy-station/misskey/internal/captcha"
	"github.com/sycy-station/misskey/internal/config"
	"github.com/sycy-station/misskey/internal/email"
	"github.com/sycy-station/misskey/internal/events"
	"github.com/sycy-station/misskey/internal/id"
	"github.com/sycy-station/misskey/internal/instance"
	"github.com/sycy-station/misskey/internal/metrics"
	"github.com/sycy-station/misskey/internal/middleware"
	"github.com/sycy-station/misskey/internal/notification"
	"github.com/sycy-station/misskey/internal/password"
	"github.com/sycy-station/misskey/internal/ratelimit"
	"github.com/sycy-station/misskey/internal/signin"
	"github.com/sycy-station/misskey/internal/twofactor"
	"github.com/sycy-station/misskey/internal/webauthn"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	// WebAuthnChecker validates assertion signatures. Optional; when nil
	// every assertion is rejected.
	WebAuthnChecker webauthn.CredentialChecker
}

// Setup configures middlewares and all application routes. It returns the
// issuer so the caller can drain queued side effects on shutdown.
func Setup(app *fiber.App, d Deps) (*signin.Issuer, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares. Audit is the access log; no second logger runs.
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health + metrics
	RegisterHealthRoutes(app, d)
	m := metrics.New()
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// Storage backends
	var accounts account.Repository
	if d.DB != nil {
		accounts = account.NewPostgresRepository(d.DB)
	} else {
		accounts = account.NewMemoryRepository()
	}
	var attempts signin.AttemptRepository
	if d.DB != nil {
		attempts = signin.NewPostgresAttemptRepository(d.DB)
	} else {
		attempts = signin.NewMemoryAttemptRepository()
	}

	var limiter ratelimit.Limiter
	var challenges webauthn.ChallengeStore
	var publisher events.Publisher
	if d.Cache != nil {
		limiter = ratelimit.NewRedisLimiter(d.Cache)
		challenges = webauthn.NewRedisChallengeStore(d.Cache)
		publisher = events.NewRedisPublisher(d.Cache)
	} else {
		limiter = ratelimit.NewMemoryLimiter()
		challenges = webauthn.NewMemoryChallengeStore()
		publisher = events.NewLoggerPublisher(d.Logger)
	}

	checker := d.WebAuthnChecker
	if checker == nil {
		checker = rejectAllChecker{}
	}
	waVerifier := webauthn.NewVerifier(challenges, checker, d.Cfg.InstanceURL)

	ids := id.NewULIDGenerator()
	issuer := signin.NewIssuer(
		accounts,
		attempts,
		notification.NewLoggerNotifier(d.Logger),
		publisher,
		email.NewLoggerSender(d.Logger),
		ids,
		d.Logger,
	)

	svc := signin.NewService(signin.Deps{
		Accounts:         accounts,
		Attempts:         attempts,
		Limiter:          limiter,
		Passwords:        password.NewVerifier(),
		Captcha:          captcha.NewGate(d.Cfg.Captcha, d.Cfg.TestMode, nil),
		Engine:           twofactor.NewEngine(twofactor.NewTOTP(), waVerifier),
		Issuer:           issuer,
		IDs:              ids,
		Logger:           d.Logger,
		Metrics:          m,
		ApprovalRequired: d.Cfg.ApprovalRequired,
	})
	handler := signin.NewHandler(svc, d.Cfg.InstanceURL)

	// API routes
	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		body := fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		}
		if meta, err := instance.Get(); err == nil {
			body["instance"] = meta.Name
		}
		return c.Status(http.StatusOK).JSON(body)
	})
	api.Post("/signin", handler.Signin)

	return issuer, nil
}

// rejectAllChecker stands in when no assertion verifier is wired. Every
// WebAuthn assertion fails closed.
type rejectAllChecker struct{}

func (rejectAllChecker) Check(_ context.Context, _, _ string, _ webauthn.Assertion) (bool, error) {
	return false, nil
}
