package model

import (
	"time"

	"gorm.io/datatypes"
)

// BusinessModules holds per-business feature flags as a free-form map.
type BusinessModules struct {
	ID         uint              `json:"id" gorm:"primaryKey"`
	BusinessID uint              `json:"business_id" gorm:"uniqueIndex;not null"`
	Modules    datatypes.JSONMap `json:"modules" gorm:"not null"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (BusinessModules) TableName() string { return "business_modules" }
