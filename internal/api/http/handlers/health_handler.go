package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/observability"
	"github.com/spec-kit/support-relay/internal/persistence"
	"github.com/spec-kit/support-relay/internal/registry"
)

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	postgres    *persistence.Postgres
	redis       *persistence.Redis
	registry    *registry.Registry
	metrics     *observability.Metrics
}

// NewHealthHandler returns a new handler instance. Nil postgres or redis
// means the service runs on in-memory stores and the probe skips them.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis, reg *registry.Registry, metrics *observability.Metrics) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, postgres: postgres, redis: redis, registry: reg, metrics: metrics}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true

	check := func(name string, configured bool, ping func(context.Context) error) {
		if !configured {
			depStatus[name] = "memory"
			return
		}
		if err := ping(ctx); err != nil {
			depStatus[name] = err.Error()
			ready = false
			return
		}
		depStatus[name] = "ok"
	}
	check("postgres", h.postgres != nil, h.postgres.Ping)
	check("redis", h.redis != nil, h.redis.Ping)

	if ready {
		return c.JSON(fiber.Map{
			"status":         "ready",
			"dependencies":   depStatus,
			"active_tickets": h.registry.Len(),
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}

// Metrics exposes the in-memory counters.
func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(h.metrics.Snapshot())
}
