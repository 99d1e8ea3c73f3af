package handlers

import (
	"context"
	"time"

	"treasure-hunt-system/logging"
	"treasure-hunt-system/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupOpsRoutes registers /health and the token-protected /metrics.
func SetupOpsRoutes(app *fiber.App, db *gorm.DB, metricsToken string) {
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			logging.Logger.Warn("[HEALTH] database ping failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "unhealthy",
				"database": "unreachable",
			})
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"database": "ok",
			"time":     time.Now().UTC(),
		})
	})

	app.Get("/metrics", middleware.ServiceTokenMiddleware(metricsToken), adaptor.HTTPHandler(promhttp.Handler()))
}
