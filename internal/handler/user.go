package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/middleware"
	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/permission"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

func ListUsers(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var users []model.User
	if err := database.GetDB().Where("business_id = ?", businessID).Order("id").Find(&users).Error; err != nil {
		logger.FromContext(c).Error("Failed to list users", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list users"})
	}
	return c.JSON(http.StatusOK, users)
}

func CreateUser(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
		TgUserID *int64 `json:"tg_user_id,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Email == "" || len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and a password of at least 8 characters are required"})
	}

	switch req.Role {
	case model.RoleAdmin, model.RoleStaff:
	case "":
		req.Role = model.RoleStaff
	default:
		// Every business has exactly one owner, created at registration.
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be admin or staff"})
	}

	var existing model.User
	err = database.GetDB().Where("business_id = ? AND email = ?", businessID, req.Email).First(&existing).Error
	if err == nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "a user with this email already exists"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create user"})
	}

	user := model.User{
		BusinessID:   businessID,
		Role:         req.Role,
		Email:        req.Email,
		FullName:     req.FullName,
		Phone:        req.Phone,
		TgUserID:     req.TgUserID,
		PasswordHash: string(hashed),
		IsActive:     true,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := database.GetDB().Create(&user).Error; err != nil {
		log.Error("Failed to create user", zap.Error(err))
		return c.JSON(http.StatusConflict, echo.Map{"error": "a user with this email already exists"})
	}

	return c.JSON(http.StatusCreated, user)
}

func UpdateUser(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	userID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	var req struct {
		FullName *string `json:"full_name,omitempty"`
		Phone    *string `json:"phone,omitempty"`
		Role     *string `json:"role,omitempty"`
		IsActive *bool   `json:"is_active,omitempty"`
		Password *string `json:"password,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	var user model.User
	err = database.GetDB().Where("id = ? AND business_id = ?", userID, businessID).First(&user).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	actor := middleware.CurrentUser(c)
	if req.IsActive != nil && !*req.IsActive && actor != nil && actor.ID == user.ID {
		return c.JSON(http.StatusConflict, echo.Map{"error": "cannot deactivate your own account"})
	}

	updates := map[string]interface{}{}
	if req.FullName != nil {
		updates["full_name"] = *req.FullName
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Role != nil {
		if *req.Role != model.RoleAdmin && *req.Role != model.RoleStaff {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be admin or staff"})
		}
		if user.Role == model.RoleOwner {
			return c.JSON(http.StatusConflict, echo.Map{"error": "owner role cannot be changed"})
		}
		updates["role"] = *req.Role
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Error("Failed to hash password", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update user"})
		}
		updates["password_hash"] = string(hashed)
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		if err := database.GetDB().Model(&user).Updates(updates).Error; err != nil {
			log.Error("Failed to update user", zap.Uint("user_id", user.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update user"})
		}
	}

	return c.JSON(http.StatusOK, user)
}

// GetUserPermissions returns the target user's role base set, stored
// overrides and the resulting effective grants. Users may read their own
// permissions; reading anyone else's requires users:write.
func GetUserPermissions(c echo.Context) error {
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	userID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	actor := middleware.CurrentUser(c)
	if actor == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}
	if actor.ID != userID {
		allowed, err := permission.NewResolver(database.GetDB()).Allowed(actor, permission.UsersWrite)
		if err != nil {
			logger.FromContext(c).Error("Permission check failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "permission check failed"})
		}
		if !allowed {
			prometheus.RecordPermissionDenied(string(permission.UsersWrite))
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
	}

	var user model.User
	err = database.GetDB().Where("id = ? AND business_id = ?", userID, businessID).First(&user).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	overrides := datatypes.JSONMap{}
	var row model.UserPermission
	err = database.GetDB().Where("business_id = ? AND user_id = ?", businessID, userID).First(&row).Error
	if err == nil {
		overrides = row.Permissions
	}

	resolver := permission.NewResolver(database.GetDB())
	effective := map[string]bool{}
	for _, key := range permission.AllKeys {
		allowed, err := resolver.Allowed(&user, key)
		if err != nil {
			logger.FromContext(c).Error("Permission resolution failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "permission check failed"})
		}
		effective[string(key)] = allowed
	}

	return c.JSON(http.StatusOK, echo.Map{
		"role":      user.Role,
		"base":      permission.BaseSet(user.Role),
		"overrides": overrides,
		"effective": effective,
	})
}

// PutUserPermissions replaces the target user's override map. Unknown keys
// and non-boolean values are rejected up front so the stored map only ever
// contains grants the resolver will honor.
func PutUserPermissions(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	userID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	var req struct {
		Permissions map[string]interface{} `json:"permissions"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	for key, value := range req.Permissions {
		if !permission.ValidKey(key) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown permission key: " + key})
		}
		if _, ok := value.(bool); !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "permission values must be booleans"})
		}
	}

	var user model.User
	err = database.GetDB().Where("id = ? AND business_id = ?", userID, businessID).First(&user).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		var row model.UserPermission
		err := tx.Where("business_id = ? AND user_id = ?", businessID, userID).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			row = model.UserPermission{
				BusinessID:  businessID,
				UserID:      userID,
				Permissions: datatypes.JSONMap(req.Permissions),
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Update("permissions", datatypes.JSONMap(req.Permissions)).Error
	})
	if err != nil {
		log.Error("Failed to store permission overrides", zap.Uint("user_id", userID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update permissions"})
	}

	return c.JSON(http.StatusOK, echo.Map{"permissions": req.Permissions})
}

func pathID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.ErrBadRequest
	}
	return uint(id), nil
}
