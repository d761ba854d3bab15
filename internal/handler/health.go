package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/docuprompt/api/internal/client"
	"github.com/docuprompt/api/internal/config"
)

const healthCheckTimeout = 2 * time.Second

type HealthHandler struct {
	redis    *redis.Client
	provider client.InferenceProvider
	store    client.ObjectStore
}

// NewHealthHandler creates the health endpoint. redisClient and store may be
// nil when the memory queue driver or no object storage is configured.
func NewHealthHandler(redisClient *redis.Client, provider client.InferenceProvider, store client.ObjectStore) *HealthHandler {
	return &HealthHandler{
		redis:    redisClient,
		provider: provider,
		store:    store,
	}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"timestamp": time.Now().Unix(),
	})
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := fiber.StatusOK

	redisState := "disabled"
	if h.redis != nil {
		redisState = "up"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			redisState = "down"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
	}

	storageState := "disabled"
	if h.store != nil {
		storageState = "up"
		if err := h.store.Ping(ctx); err != nil {
			// archiving is optional, renders still complete without it
			storageState = "down"
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"redis": redisState,
			"inference": fiber.Map{
				"provider":   h.provider.Name(),
				"configured": h.provider.Name() != config.ProviderMock,
			},
			"storage": storageState,
		},
	})
}
