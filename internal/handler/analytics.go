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

// Hourly grid the bot offers; occupancy is measured against it.
const slotsPerDay = 10

// Occupancy reports booked slots against bookable capacity over a date
// range (default: the next 7 days).
func Occupancy(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	from := time.Now().Truncate(24 * time.Hour)
	days := 7
	if v := c.QueryParam("from"); v != "" {
		from, err = time.Parse("2006-01-02", v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must be YYYY-MM-DD"})
		}
	}
	if v := c.QueryParam("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil || !to.After(from) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "to must be YYYY-MM-DD after from"})
		}
		days = int(to.Sub(from).Hours()/24) + 1
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var bookableMasters int64
	err = database.GetDB().Model(&model.Master{}).
		Where("business_id = ? AND is_bookable = ?", businessID, true).
		Count(&bookableMasters).Error
	if err != nil {
		log.Error("Occupancy master count failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to compute occupancy"})
	}

	var booked int64
	err = database.GetDB().Model(&model.Appointment{}).
		Where("business_id = ? AND status = ? AND start_at >= ? AND start_at < ?",
			businessID, model.AppointmentBooked, from, from.AddDate(0, 0, days)).
		Count(&booked).Error
	if err != nil {
		log.Error("Occupancy appointment count failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to compute occupancy"})
	}

	capacity := bookableMasters * int64(days) * slotsPerDay
	rate := 0.0
	if capacity > 0 {
		rate = float64(booked) / float64(capacity)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"from":           from.Format("2006-01-02"),
		"days":           days,
		"booked":         booked,
		"capacity":       capacity,
		"occupancy_rate": rate,
	})
}

// FinanceSummary aggregates income and expense over a date range.
func FinanceSummary(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	query := database.GetDB().Model(&model.Transaction{}).Where("business_id = ?", businessID)
	if v := c.QueryParam("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must be YYYY-MM-DD"})
		}
		query = query.Where("created_at >= ?", from)
	}
	if v := c.QueryParam("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "to must be YYYY-MM-DD"})
		}
		query = query.Where("created_at < ?", to.AddDate(0, 0, 1))
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	type row struct {
		Type  string
		Total int64
	}
	var rows []row
	err = query.Select("type, COALESCE(SUM(amount), 0) AS total").Group("type").Scan(&rows).Error
	if err != nil {
		log.Error("Finance summary failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to compute summary"})
	}

	var income, expense int64
	for _, r := range rows {
		switch r.Type {
		case model.TransactionIncome:
			income = r.Total
		case model.TransactionExpense:
			expense = r.Total
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"income":  income,
		"expense": expense,
		"net":     income - expense,
	})
}
