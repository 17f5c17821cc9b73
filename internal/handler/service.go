package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

func ListServices(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	query := database.GetDB().Where("business_id = ?", businessID)
	if c.QueryParam("active") == "true" {
		query = query.Where("is_active = ?", true)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var services []model.Service
	if err := query.Order("sort_order, name").Find(&services).Error; err != nil {
		logger.FromContext(c).Error("Failed to list services", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list services"})
	}
	return c.JSON(http.StatusOK, services)
}

func CreateService(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		DurationMin int    `json:"duration_min"`
		Price       int    `json:"price"`
		CategoryID  *uint  `json:"category_id,omitempty"`
		SortOrder   int    `json:"sort_order"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Name == "" || req.DurationMin <= 0 || req.Price < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name, a positive duration_min and a non-negative price are required"})
	}

	service := model.Service{
		BusinessID:  businessID,
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		DurationMin: req.DurationMin,
		Price:       req.Price,
		IsActive:    true,
		SortOrder:   req.SortOrder,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := database.GetDB().Create(&service).Error; err != nil {
		logger.FromContext(c).Error("Failed to create service", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create service"})
	}
	return c.JSON(http.StatusCreated, service)
}

func UpdateService(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	serviceID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid service id"})
	}

	var req struct {
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
		DurationMin *int    `json:"duration_min,omitempty"`
		Price       *int    `json:"price,omitempty"`
		IsActive    *bool   `json:"is_active,omitempty"`
		SortOrder   *int    `json:"sort_order,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	var service model.Service
	err = database.GetDB().Where("id = ? AND business_id = ?", serviceID, businessID).First(&service).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.DurationMin != nil {
		if *req.DurationMin <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "duration_min must be positive"})
		}
		updates["duration_min"] = *req.DurationMin
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "price must be non-negative"})
		}
		updates["price"] = *req.Price
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.SortOrder != nil {
		updates["sort_order"] = *req.SortOrder
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		if err := database.GetDB().Model(&service).Updates(updates).Error; err != nil {
			logger.FromContext(c).Error("Failed to update service", zap.Uint("service_id", service.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update service"})
		}
	}
	return c.JSON(http.StatusOK, service)
}

// DeleteService retires a service from the catalog. Appointments keep their
// price and duration snapshots, so the row can be removed outright.
func DeleteService(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	serviceID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid service id"})
	}

	var service model.Service
	err = database.GetDB().Where("id = ? AND business_id = ?", serviceID, businessID).First(&service).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if err := database.GetDB().Delete(&service).Error; err != nil {
		logger.FromContext(c).Error("Failed to delete service", zap.Uint("service_id", service.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete service"})
	}
	return c.NoContent(http.StatusNoContent)
}
