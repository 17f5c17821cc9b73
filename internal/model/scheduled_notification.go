package model

import (
	"time"

	"gorm.io/datatypes"
)

// Scheduled notification statuses.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// ScheduledNotification is a queued outbound message, typically an
// appointment reminder. Picked up by the notify scheduler once SendAt
// passes; rows that fail to send stay pending for the next tick.
type ScheduledNotification struct {
	ID            uint              `json:"id" gorm:"primaryKey"`
	BusinessID    uint              `json:"business_id" gorm:"index;not null"`
	AppointmentID *uint             `json:"appointment_id,omitempty" gorm:"index"`
	ClientID      uint              `json:"client_id" gorm:"index;not null"`
	TemplateKey   string            `json:"template_key" gorm:"type:varchar(64);not null"`
	Payload       datatypes.JSONMap `json:"payload,omitempty"`
	SendAt        time.Time         `json:"send_at" gorm:"index;not null"`
	Status        string            `json:"status" gorm:"type:varchar(32);not null;default:'pending'"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
