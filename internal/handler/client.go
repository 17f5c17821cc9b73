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

func ListClients(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var clients []model.Client
	err = database.GetDB().Where("business_id = ?", businessID).Order("created_at DESC").Find(&clients).Error
	if err != nil {
		logger.FromContext(c).Error("Failed to list clients", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list clients"})
	}
	return c.JSON(http.StatusOK, clients)
}

func GetClient(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	clientID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid client id"})
	}

	var client model.Client
	err = database.GetDB().Where("id = ? AND business_id = ?", clientID, businessID).First(&client).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}
	return c.JSON(http.StatusOK, client)
}

func UpdateClient(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	clientID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid client id"})
	}

	var req struct {
		Username *string `json:"username,omitempty"`
		Phone    *string `json:"phone,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	var client model.Client
	err = database.GetDB().Where("id = ? AND business_id = ?", clientID, businessID).First(&client).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}

	updates := map[string]interface{}{}
	if req.Username != nil {
		updates["username"] = *req.Username
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		if err := database.GetDB().Model(&client).Updates(updates).Error; err != nil {
			logger.FromContext(c).Error("Failed to update client", zap.Uint("client_id", client.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update client"})
		}
	}
	return c.JSON(http.StatusOK, client)
}

// ClientHistory lists a client's work-history records, newest first. The
// client must exist inside the caller's tenant; an id from another tenant
// is indistinguishable from a missing one.
func ClientHistory(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	clientID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid client id"})
	}

	var client model.Client
	err = database.GetDB().Where("id = ? AND business_id = ?", clientID, businessID).First(&client).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var history []model.WorkHistory
	err = database.GetDB().Where("business_id = ? AND client_id = ?", businessID, client.ID).
		Order("created_at DESC").Find(&history).Error
	if err != nil {
		logger.FromContext(c).Error("Failed to list work history", zap.Uint("client_id", client.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list history"})
	}
	return c.JSON(http.StatusOK, history)
}
