package model

import (
	"time"

	"gorm.io/gorm"
)

// User roles. Staff accounts get a read-mostly permission base; per-user
// overrides can widen or narrow any role (see internal/permission).
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// User represents a staff-side account belonging to exactly one business.
type User struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	BusinessID   uint           `json:"business_id" gorm:"index;not null;uniqueIndex:uq_users_business_email"`
	Role         string         `json:"role" gorm:"type:varchar(16);not null;default:'staff'"`
	Email        string         `json:"email" gorm:"type:varchar(255);uniqueIndex:uq_users_business_email"`
	FullName     string         `json:"full_name,omitempty" gorm:"type:varchar(255)"`
	Phone        string         `json:"phone,omitempty" gorm:"type:varchar(32)"`
	TgUserID     *int64         `json:"tg_user_id,omitempty" gorm:"index"`
	PasswordHash string         `json:"-" gorm:"type:varchar(255)"`
	IsActive     bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}
