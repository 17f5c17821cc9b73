package model

import (
	"time"

	"gorm.io/gorm"
)

// Business represents one tenant. Every other record in the system carries
// a BusinessID and is only ever read or written through that scope.
type Business struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:varchar(255);not null"`
	Phone     string         `json:"phone,omitempty" gorm:"type:varchar(32)"`
	Address   string         `json:"address,omitempty" gorm:"type:varchar(255)"`
	City      string         `json:"city,omitempty" gorm:"type:varchar(128)"`
	Timezone  string         `json:"timezone" gorm:"type:varchar(64);default:'Europe/Berlin'"`
	Currency  string         `json:"currency" gorm:"type:varchar(3);default:'EUR'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
