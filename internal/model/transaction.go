package model

import "time"

// Transaction types.
const (
	TransactionIncome  = "income"
	TransactionExpense = "expense"
)

// Transaction is one finance entry (income or expense) of a business.
type Transaction struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	BusinessID      uint       `json:"business_id" gorm:"index;not null"`
	Type            string     `json:"type" gorm:"type:varchar(16);not null"`
	CategoryID      *uint      `json:"category_id,omitempty" gorm:"index"`
	AppointmentID   *uint      `json:"appointment_id,omitempty" gorm:"index"`
	Amount          int        `json:"amount" gorm:"not null"`
	OccurredAt      *time.Time `json:"occurred_at,omitempty" gorm:"index"`
	Description     string     `json:"description,omitempty" gorm:"type:varchar(1000)"`
	CreatedByUserID *uint      `json:"created_by_user_id,omitempty" gorm:"index"`
	CreatedAt       time.Time  `json:"created_at"`
}
