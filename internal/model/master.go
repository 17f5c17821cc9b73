package model

import "time"

// Master is a bookable specialist of a business. A master may be linked to a
// staff user account but does not have to be.
type Master struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	BusinessID  uint      `json:"business_id" gorm:"index;not null;uniqueIndex:uq_masters_business_user"`
	UserID      *uint     `json:"user_id,omitempty" gorm:"uniqueIndex:uq_masters_business_user"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null"`
	Bio         string    `json:"bio,omitempty" gorm:"type:varchar(1000)"`
	IsBookable  bool      `json:"is_bookable" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
