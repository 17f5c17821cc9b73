package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

// GetModules returns the business's feature flag map. A business with no
// stored row simply has no flags set.
func GetModules(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var row model.BusinessModules
	err = database.GetDB().Where("business_id = ?", businessID).First(&row).Error
	if err != nil {
		return c.JSON(http.StatusOK, echo.Map{"modules": datatypes.JSONMap{}})
	}
	return c.JSON(http.StatusOK, echo.Map{"modules": row.Modules})
}

func PutModules(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		Modules map[string]interface{} `json:"modules"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	for name, value := range req.Modules {
		if _, ok := value.(bool); !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "module flag " + name + " must be a boolean"})
		}
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		var row model.BusinessModules
		err := tx.Where("business_id = ?", businessID).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			row = model.BusinessModules{
				BusinessID: businessID,
				Modules:    datatypes.JSONMap(req.Modules),
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Update("modules", datatypes.JSONMap(req.Modules)).Error
	})
	if err != nil {
		log.Error("Failed to store module flags", zap.Uint("business_id", businessID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update modules"})
	}

	return c.JSON(http.StatusOK, echo.Map{"modules": req.Modules})
}
