package model

import "time"

// Service is one bookable catalog entry. Price is stored in the smallest
// currency unit; DurationMin in minutes. Appointments snapshot both at
// booking time, so editing a service never rewrites history.
type Service struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	BusinessID  uint      `json:"business_id" gorm:"index;not null"`
	CategoryID  *uint     `json:"category_id,omitempty" gorm:"index"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description,omitempty" gorm:"type:varchar(1000)"`
	DurationMin int       `json:"duration_min" gorm:"not null"`
	Price       int       `json:"price" gorm:"not null"`
	IsActive    bool      `json:"is_active" gorm:"not null;default:true"`
	SortOrder   int       `json:"sort_order" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
