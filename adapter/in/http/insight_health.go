package http

import (
	"context"
	"time"

	"insight_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
)

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CircuitReporter exposes a circuit breaker's state.
type CircuitReporter interface {
	CircuitState() string
	IsCircuitOpen() bool
}

// LatencyReporter exposes recorded call latencies.
type LatencyReporter interface {
	AllStats() map[string]metrics.LatencyStats
}

type HealthHandler struct {
	redis    Pinger
	circuits map[string]CircuitReporter
	latency  LatencyReporter
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{circuits: map[string]CircuitReporter{}}
}

// NewHealthHandlerWithDeps wires readiness checks. redis may be nil.
func NewHealthHandlerWithDeps(redis Pinger, circuits map[string]CircuitReporter) *HealthHandler {
	if circuits == nil {
		circuits = map[string]CircuitReporter{}
	}
	return &HealthHandler{
		redis:    redis,
		circuits: circuits,
	}
}

// WithLatency enables GET /metrics/latency.
func (h *HealthHandler) WithLatency(l LatencyReporter) *HealthHandler {
	h.latency = l
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	if h.latency != nil {
		app.Get("/metrics/latency", h.Latency)
	}
}

// Latency reports percentiles per recorded operation, in milliseconds.
func (h *HealthHandler) Latency(c *fiber.Ctx) error {
	stats := h.latency.AllStats()
	body := make(map[string]any, len(stats))
	for name, s := range stats {
		body[name] = s.ToMap()
	}
	return c.JSON(fiber.Map{
		"latency":   body,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready fails only when Redis is configured and unreachable. An open
// circuit degrades analysis to fallbacks, so it is reported, not fatal.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true
	degraded := false

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	for name, cb := range h.circuits {
		checks[name] = "circuit " + cb.CircuitState()
		if cb.IsCircuitOpen() {
			degraded = true
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	switch {
	case !allHealthy:
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
