package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/jwtutil"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

// Register creates a new business together with its owner account. The two
// rows are committed atomically; a business without an owner must never be
// observable.
func Register(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		BusinessName string `json:"business_name"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		FullName     string `json:"full_name"`
		Phone        string `json:"phone"`
	}

	if err := c.Bind(&req); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.BusinessName == "" || req.Email == "" || len(req.Password) < 8 {
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "business_name, email and a password of at least 8 characters are required"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	var business model.Business
	var owner model.User
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		business = model.Business{Name: req.BusinessName, Phone: req.Phone}
		if err := tx.Create(&business).Error; err != nil {
			return err
		}

		owner = model.User{
			BusinessID:   business.ID,
			Role:         model.RoleOwner,
			Email:        req.Email,
			FullName:     req.FullName,
			Phone:        req.Phone,
			PasswordHash: string(hashed),
			IsActive:     true,
		}
		return tx.Create(&owner).Error
	})
	if err != nil {
		log.Error("Registration failed", zap.String("email", req.Email), zap.Error(err))
		prometheus.RecordAuthError("registration_failed")
		return c.JSON(http.StatusConflict, echo.Map{"error": "registration failed"})
	}

	token, err := jwtutil.GenerateToken(owner.ID, business.ID, owner.Role, owner.Email)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("Business registered",
		zap.Uint("business_id", business.ID),
		zap.Uint("owner_id", owner.ID))

	return c.JSON(http.StatusCreated, echo.Map{
		"token":    token,
		"business": business,
		"user":     owner,
	})
}

// Login authenticates by email and password. Emails are unique per business,
// not globally; when the same email exists in several businesses the caller
// disambiguates with business_id.
func Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		BusinessID *uint  `json:"business_id,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	query := database.GetDB().Where("email = ? AND is_active = ?", req.Email, true)
	if req.BusinessID != nil {
		query = query.Where("business_id = ?", *req.BusinessID)
	}

	var users []model.User
	if err := query.Find(&users).Error; err != nil {
		log.Error("Login query failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}

	for i := range users {
		user := &users[i]
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			continue
		}

		token, err := jwtutil.GenerateToken(user.ID, user.BusinessID, user.Role, user.Email)
		if err != nil {
			log.Error("Failed to generate token", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
		}

		log.Info("User logged in",
			zap.Uint("user_id", user.ID),
			zap.Uint("business_id", user.BusinessID))
		return c.JSON(http.StatusOK, echo.Map{"token": token, "user": user})
	}

	log.Warn("Login rejected", zap.String("email", req.Email))
	prometheus.RecordAuthError("invalid_credentials")
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
}
