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

func ListChatThreads(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var threads []model.ChatThread
	err = database.GetDB().Where("business_id = ?", businessID).Order("updated_at DESC").Find(&threads).Error
	if err != nil {
		logger.FromContext(c).Error("Failed to list chat threads", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list threads"})
	}
	return c.JSON(http.StatusOK, threads)
}

// ListChatMessages returns one thread's messages in chronological order.
// The thread lookup is tenant-scoped, so a foreign thread id reads as
// missing rather than forbidden.
func ListChatMessages(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	threadID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid thread id"})
	}

	var thread model.ChatThread
	err = database.GetDB().Where("id = ? AND business_id = ?", threadID, businessID).First(&thread).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "thread not found"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var messages []model.ChatMessage
	err = database.GetDB().Where("business_id = ? AND thread_id = ?", businessID, thread.ID).
		Order("created_at").Find(&messages).Error
	if err != nil {
		logger.FromContext(c).Error("Failed to list chat messages", zap.Uint("thread_id", thread.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list messages"})
	}
	return c.JSON(http.StatusOK, messages)
}
