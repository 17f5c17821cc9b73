package model

import (
	"time"

	"gorm.io/datatypes"
)

// UserPermission holds per-user permission overrides for a business. The
// Permissions map goes from permission-key string to a boolean that wins over
// the role's base grant in either direction. At most one row per
// (business, user).
type UserPermission struct {
	ID          uint              `json:"id" gorm:"primaryKey"`
	BusinessID  uint              `json:"business_id" gorm:"not null;uniqueIndex:uq_user_permissions_business_user"`
	UserID      uint              `json:"user_id" gorm:"not null;uniqueIndex:uq_user_permissions_business_user"`
	Permissions datatypes.JSONMap `json:"permissions" gorm:"not null"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
