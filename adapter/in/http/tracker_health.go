// Package http exposes the tracker API over fiber.
package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"tracker_server/pkg/metrics"
)

// HealthChecker is anything that can prove its backing service is up.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks    map[string]HealthChecker
	latencies *metrics.Registry
	stats     map[string]func() any
	now       func() time.Time
}

// NewHealthHandler builds the health checks. Nil checkers are reported as
// "not configured" and do not fail readiness.
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks, stats: map[string]func() any{}, now: time.Now}
}

// WithLatencies exposes per-route latency windows on /metrics.
func (h *HealthHandler) WithLatencies(reg *metrics.Registry) *HealthHandler {
	h.latencies = reg
	return h
}

// WithStats adds a named section to /metrics.
func (h *HealthHandler) WithStats(name string, fn func() any) *HealthHandler {
	h.stats[name] = fn
	return h
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/metrics", h.Metrics)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for name, checker := range h.checks {
		if checker == nil {
			checks[name] = "not configured"
			continue
		}
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status, code := "ready", fiber.StatusOK
	if !allHealthy {
		status, code = "not ready", fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	body := fiber.Map{"timestamp": h.now().UTC().Format(time.RFC3339)}

	if h.latencies != nil {
		routes := make(map[string]map[string]any)
		for name, s := range h.latencies.Snapshot() {
			routes[name] = s.ToMap()
		}
		body["latency"] = routes
	}
	for name, fn := range h.stats {
		body[name] = fn()
	}
	return c.JSON(body)
}
