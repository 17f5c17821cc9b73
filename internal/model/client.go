package model

import "time"

// Client is an end customer of a business, usually first seen through the
// Telegram channel. Created lazily on first contact.
type Client struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	BusinessID  uint       `json:"business_id" gorm:"not null;uniqueIndex:uq_clients_business_tg"`
	TgUserID    *int64     `json:"tg_user_id,omitempty" gorm:"uniqueIndex:uq_clients_business_tg"`
	Username    string     `json:"username,omitempty" gorm:"type:varchar(255)"`
	Phone       string     `json:"phone,omitempty" gorm:"type:varchar(32)"`
	LastVisitAt *time.Time `json:"last_visit_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
