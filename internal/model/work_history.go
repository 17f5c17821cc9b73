package model

import "time"

// WorkHistory is an append-only audit record written 1:1 with every new
// appointment, in the same transaction. It captures the service name and
// price at booking time, independent of later catalog edits.
type WorkHistory struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	BusinessID    uint      `json:"business_id" gorm:"index;not null"`
	AppointmentID *uint     `json:"appointment_id,omitempty" gorm:"index"`
	ClientID      uint      `json:"client_id" gorm:"index;not null"`
	MasterID      uint      `json:"master_id" gorm:"index;not null"`
	ServiceName   string    `json:"service_name" gorm:"type:varchar(255);not null"`
	Price         *int      `json:"price,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (WorkHistory) TableName() string { return "work_history" }
