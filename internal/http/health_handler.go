package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/pkg/geoip"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	GeoIP     bool      `json:"geoip"`
}

// HealthIndexAction handles the health check endpoint
func HealthIndexAction(ctx *cartridge.Context) error {
	dbStatus := "ok"

	// Check database connectivity
	db := ctx.DBManager.GetConnection()
	if db == nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database connection error", slog.Any("error", err))
		} else if err := sqlDB.PingContext(ctx.UserContext()); err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		}
	}

	health := HealthStatus{
		Status:    "ok",
		Version:   config.Version,
		Timestamp: time.Now().UTC(),
		DBStatus:  dbStatus,
		GeoIP:     geoip.GetGeoDB() != nil,
	}

	if dbStatus != "ok" {
		health.Status = "degraded"
		return ctx.Status(503).JSON(health)
	}

	return ctx.JSON(health)
}
