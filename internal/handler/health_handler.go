package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthHandler serves liveness and readiness probes. The redis client is
// nil when rate limiting is disabled; readiness then checks postgres only.
type HealthHandler struct {
	db     *gorm.DB
	redis  *redis.Client
	logger *zap.Logger
}

func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{db: db, redis: redisClient, logger: logger}
}

func (h *HealthHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/", h.Root)
	app.Get("/livez", h.Livez)
	app.Get("/readyz", h.Readyz)
}

func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString("OK")
}

func (h *HealthHandler) Livez(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString("ok")
}

func (h *HealthHandler) Readyz(c *fiber.Ctx) error {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Context())
		}
		if err != nil {
			h.logger.Warn("readiness: postgres unavailable", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).SendString("postgres unavailable")
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(c.Context()).Err(); err != nil {
			h.logger.Warn("readiness: redis unavailable", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).SendString("redis unavailable")
		}
	}

	return c.Status(fiber.StatusOK).SendString("ok")
}
