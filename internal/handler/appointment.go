package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

func ListAppointments(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	query := database.GetDB().Where("business_id = ?", businessID)
	if v := c.QueryParam("master_id"); v != "" {
		query = query.Where("master_id = ?", v)
	}
	if v := c.QueryParam("status"); v != "" {
		query = query.Where("status = ?", v)
	}
	if v := c.QueryParam("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must be YYYY-MM-DD"})
		}
		query = query.Where("start_at >= ?", from)
	}
	if v := c.QueryParam("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "to must be YYYY-MM-DD"})
		}
		query = query.Where("start_at < ?", to.AddDate(0, 0, 1))
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var appointments []model.Appointment
	if err := query.Order("start_at").Find(&appointments).Error; err != nil {
		logger.FromContext(c).Error("Failed to list appointments", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list appointments"})
	}
	return c.JSON(http.StatusOK, appointments)
}

// CreateAppointment books a slot from the staff side. Price and duration are
// copied from the service at this moment; the appointment and its
// work-history row commit in one transaction.
func CreateAppointment(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		ClientID  uint      `json:"client_id"`
		MasterID  uint      `json:"master_id"`
		ServiceID *uint     `json:"service_id,omitempty"`
		StartAt   time.Time `json:"start_at"`
		Comment   string    `json:"comment"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.ClientID == 0 || req.MasterID == 0 || req.StartAt.IsZero() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "client_id, master_id and start_at are required"})
	}

	var client model.Client
	err = database.GetDB().Where("id = ? AND business_id = ?", req.ClientID, businessID).First(&client).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "client not found"})
	}

	var master model.Master
	err = database.GetDB().Where("id = ? AND business_id = ?", req.MasterID, businessID).First(&master).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "master not found"})
	}

	serviceName := "Service"
	var price, durationMin *int
	if req.ServiceID != nil {
		var service model.Service
		err = database.GetDB().Where("id = ? AND business_id = ?", *req.ServiceID, businessID).First(&service).Error
		if err != nil {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
		}
		serviceName = service.Name
		price = &service.Price
		durationMin = &service.DurationMin
	}

	endAt := req.StartAt
	if durationMin != nil {
		endAt = req.StartAt.Add(time.Duration(*durationMin) * time.Minute)
	}

	appt := model.Appointment{
		BusinessID:  businessID,
		ClientID:    client.ID,
		MasterID:    master.ID,
		ServiceID:   req.ServiceID,
		StartAt:     req.StartAt,
		EndAt:       endAt,
		Status:      model.AppointmentBooked,
		Source:      model.SourceAdmin,
		Price:       price,
		DurationMin: durationMin,
		Comment:     req.Comment,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&appt).Error; err != nil {
			return err
		}
		history := model.WorkHistory{
			BusinessID:    businessID,
			AppointmentID: &appt.ID,
			ClientID:      client.ID,
			MasterID:      master.ID,
			ServiceName:   serviceName,
			Price:         price,
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		log.Error("Failed to create appointment", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create appointment"})
	}

	return c.JSON(http.StatusCreated, appt)
}

// UpdateAppointment changes status or comment. Completing an appointment
// also stamps the client's last visit.
func UpdateAppointment(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	apptID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid appointment id"})
	}

	var req struct {
		Status  *string `json:"status,omitempty"`
		Comment *string `json:"comment,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	var appt model.Appointment
	err = database.GetDB().Where("id = ? AND business_id = ?", apptID, businessID).First(&appt).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "appointment not found"})
	}

	updates := map[string]interface{}{}
	if req.Status != nil {
		switch *req.Status {
		case model.AppointmentBooked, model.AppointmentCompleted, model.AppointmentCancelled:
			updates["status"] = *req.Status
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be booked, completed or cancelled"})
		}
	}
	if req.Comment != nil {
		updates["comment"] = *req.Comment
	}

	if len(updates) == 0 {
		return c.JSON(http.StatusOK, appt)
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&appt).Updates(updates).Error; err != nil {
			return err
		}
		if req.Status != nil && *req.Status == model.AppointmentCompleted {
			return tx.Model(&model.Client{}).
				Where("id = ? AND business_id = ?", appt.ClientID, businessID).
				Update("last_visit_at", appt.StartAt).Error
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to update appointment", zap.Uint("appointment_id", appt.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update appointment"})
	}

	return c.JSON(http.StatusOK, appt)
}
