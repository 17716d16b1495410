package handlers

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	pingDB func(ctx context.Context) error
	redis  *redis.Client
}

// NewHealthHandler takes the database ping and an optional Redis client.
func NewHealthHandler(pingDB func(ctx context.Context) error, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{pingDB: pingDB, redis: redisClient}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := "ok"
	if err := h.pingDB(ctx); err != nil {
		dbStatus = "unhealthy: " + err.Error()
		status = "degraded"
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy: " + err.Error()
			status = "degraded"
		}
	}

	return c.JSON(dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		Redis:     redisStatus,
	})
}
