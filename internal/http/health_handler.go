// Package http holds operational endpoints that sit beside the API.
package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"
)

const healthPingTimeout = 2 * time.Second

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"dbStatus"`
}

// HealthIndexAction returns the health check handler. It answers 503 when
// the database does not respond.
func HealthIndexAction(dbManager cartridge.DBManager, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := HealthStatus{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			DBStatus:  "ok",
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), healthPingTimeout)
		defer cancel()

		if err := ping(ctx, dbManager); err != nil {
			logger.Error("Database ping failed", slog.Any("error", err))
			health.Status = "degraded"
			health.DBStatus = "error"
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		return c.JSON(health)
	}
}

func ping(ctx context.Context, dbManager cartridge.DBManager) error {
	db := dbManager.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
