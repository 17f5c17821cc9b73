package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/speymell/crmbot/internal/middleware"
	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

func ListTransactions(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	query := database.GetDB().Where("business_id = ?", businessID)
	if v := c.QueryParam("type"); v != "" {
		if v != model.TransactionIncome && v != model.TransactionExpense {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "type must be income or expense"})
		}
		query = query.Where("type = ?", v)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var transactions []model.Transaction
	if err := query.Order("created_at DESC").Find(&transactions).Error; err != nil {
		logger.FromContext(c).Error("Failed to list transactions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list transactions"})
	}
	return c.JSON(http.StatusOK, transactions)
}

func CreateTransaction(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		Type          string     `json:"type"`
		Amount        int        `json:"amount"`
		CategoryID    *uint      `json:"category_id,omitempty"`
		AppointmentID *uint      `json:"appointment_id,omitempty"`
		OccurredAt    *time.Time `json:"occurred_at,omitempty"`
		Description   string     `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Type != model.TransactionIncome && req.Type != model.TransactionExpense {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "type must be income or expense"})
	}
	if req.Amount <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be positive"})
	}

	if req.AppointmentID != nil {
		var appt model.Appointment
		err := database.GetDB().Where("id = ? AND business_id = ?", *req.AppointmentID, businessID).First(&appt).Error
		if err != nil {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "appointment not found"})
		}
	}

	txn := model.Transaction{
		BusinessID:    businessID,
		Type:          req.Type,
		CategoryID:    req.CategoryID,
		AppointmentID: req.AppointmentID,
		Amount:        req.Amount,
		OccurredAt:    req.OccurredAt,
		Description:   req.Description,
	}
	if actor := middleware.CurrentUser(c); actor != nil {
		txn.CreatedByUserID = &actor.ID
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := database.GetDB().Create(&txn).Error; err != nil {
		logger.FromContext(c).Error("Failed to create transaction", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create transaction"})
	}
	return c.JSON(http.StatusCreated, txn)
}
