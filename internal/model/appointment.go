package model

import "time"

// Appointment statuses.
const (
	AppointmentBooked    = "booked"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// Appointment sources.
const (
	SourceTelegram = "telegram"
	SourceAdmin    = "admin"
)

// Appointment is the durable outcome of a booking. Price and DurationMin are
// copied from the service at creation time and never recomputed.
type Appointment struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	BusinessID  uint      `json:"business_id" gorm:"index;not null"`
	ClientID    uint      `json:"client_id" gorm:"index;not null"`
	MasterID    uint      `json:"master_id" gorm:"index;not null"`
	ServiceID   *uint     `json:"service_id,omitempty" gorm:"index"`
	StartAt     time.Time `json:"start_at" gorm:"index;not null"`
	EndAt       time.Time `json:"end_at" gorm:"not null"`
	Status      string    `json:"status" gorm:"type:varchar(16);not null;default:'booked'"`
	Source      string    `json:"source" gorm:"type:varchar(16);not null;default:'admin'"`
	Price       *int      `json:"price,omitempty"`
	DurationMin *int      `json:"duration_min,omitempty"`
	Comment     string    `json:"comment,omitempty" gorm:"type:varchar(1000)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
