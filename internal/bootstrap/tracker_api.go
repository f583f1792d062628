package bootstrap

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"tracker_server/adapter/in/http"
	"tracker_server/infra/middleware"
	"tracker_server/pkg/metrics"
	"tracker_server/pkg/ratelimit"
)

// API is the HTTP server plus, when jobs run in-process, the worker pool
// that sends auto-replies.
type API struct {
	App  *fiber.App
	deps *Dependencies
}

func NewAPI(deps *Dependencies) *API {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	latencies := metrics.NewRegistry(0)
	app.Use(middleware.RequestLogger(latencies))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID,Retry-After",
		MaxAge:        86400,
	}))

	health := http.NewHealthHandler(healthChecks(deps)).WithLatencies(latencies)
	addStats(health, deps)
	health.Register(app)

	api := app.Group("/api/v1")

	accounts := http.NewAccountHandler(deps.Accounts)
	accounts.RegisterPublic(api)

	protected := api.Group("", middleware.JWTAuth(cfg.JWTSecret))
	http.NewJobHandler(deps.Tracking, middleware.RateLimit(scanLimiter(deps))).Register(protected)
	accounts.Register(protected)

	return &API{App: app, deps: deps}
}

// Start begins serving on addr and blocks until the server stops.
func (a *API) Start(addr string) error {
	if a.deps.InProcessJobs() {
		a.deps.Pool.Start()
	}
	return a.App.Listen(addr)
}

func (a *API) Shutdown(ctx context.Context) error {
	err := a.App.ShutdownWithContext(ctx)
	if a.deps.InProcessJobs() {
		a.deps.Pool.Stop()
	}
	return err
}

func scanLimiter(deps *Dependencies) ratelimit.Limiter {
	cfg := deps.Config
	if deps.Redis != nil {
		return ratelimit.NewSlidingWindowLimiter(deps.Redis, "ratelimit:scan:", cfg.ScanRateLimit, cfg.ScanRateWindow)
	}
	return ratelimit.NewMemoryLimiter(cfg.ScanRateLimit, cfg.ScanRateWindow, nil)
}

func healthChecks(deps *Dependencies) map[string]http.HealthChecker {
	checks := map[string]http.HealthChecker{
		"mongodb":  nil,
		"postgres": nil,
		"redis":    nil,
	}
	if deps.Mongo != nil {
		checks["mongodb"] = http.PingFunc(func(ctx context.Context) error {
			return deps.Mongo.Ping(ctx, nil)
		})
	}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres
	}
	if deps.Redis != nil {
		checks["redis"] = http.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	return checks
}

func addStats(h *http.HealthHandler, deps *Dependencies) {
	if deps.InProcessJobs() {
		h.WithStats("worker_pool", func() any { return deps.Pool.GetMetrics() })
	}
	if deps.Postgres != nil {
		h.WithStats("postgres_pool", func() any { return deps.Postgres.Stats() })
	}
	h.WithStats("gmail", func() any {
		return fiber.Map{"circuit_open": deps.Gmail.IsCircuitOpen()}
	})
}
