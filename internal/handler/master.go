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

func ListMasters(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	query := database.GetDB().Where("business_id = ?", businessID)
	if c.QueryParam("bookable") == "true" {
		query = query.Where("is_bookable = ?", true)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var masters []model.Master
	if err := query.Order("display_name").Find(&masters).Error; err != nil {
		logger.FromContext(c).Error("Failed to list masters", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list masters"})
	}
	return c.JSON(http.StatusOK, masters)
}

func CreateMaster(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		DisplayName string `json:"display_name"`
		Bio         string `json:"bio"`
		UserID      *uint  `json:"user_id,omitempty"`
		IsBookable  *bool  `json:"is_bookable,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.DisplayName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "display_name is required"})
	}

	// A master linked to a staff account must link inside this tenant.
	if req.UserID != nil {
		var user model.User
		err := database.GetDB().Where("id = ? AND business_id = ?", *req.UserID, businessID).First(&user).Error
		if err != nil {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
	}

	master := model.Master{
		BusinessID:  businessID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		IsBookable:  true,
	}
	if req.IsBookable != nil {
		master.IsBookable = *req.IsBookable
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := database.GetDB().Create(&master).Error; err != nil {
		logger.FromContext(c).Error("Failed to create master", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create master"})
	}
	return c.JSON(http.StatusCreated, master)
}

func UpdateMaster(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	masterID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid master id"})
	}

	var req struct {
		DisplayName *string `json:"display_name,omitempty"`
		Bio         *string `json:"bio,omitempty"`
		IsBookable  *bool   `json:"is_bookable,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	var master model.Master
	err = database.GetDB().Where("id = ? AND business_id = ?", masterID, businessID).First(&master).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "master not found"})
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		if *req.DisplayName == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "display_name cannot be empty"})
		}
		updates["display_name"] = *req.DisplayName
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.IsBookable != nil {
		updates["is_bookable"] = *req.IsBookable
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		if err := database.GetDB().Model(&master).Updates(updates).Error; err != nil {
			logger.FromContext(c).Error("Failed to update master", zap.Uint("master_id", master.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update master"})
		}
	}
	return c.JSON(http.StatusOK, master)
}
