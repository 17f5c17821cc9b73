package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/speymell/crmbot/pkg/database"
)

// HealthCheck reports process and database liveness.
func HealthCheck(c echo.Context) error {
	sqlDB, err := database.GetDB().DB()
	if err != nil || sqlDB.Ping() != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "database": "down"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
