package model

import "time"

// Chat message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ChatThread is one conversation between a business and a Telegram user.
// One thread per (business, tg user).
type ChatThread struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	BusinessID     uint      `json:"business_id" gorm:"not null;uniqueIndex:uq_chat_threads_business_client"`
	ClientTgUserID int64     `json:"client_tg_user_id" gorm:"not null;uniqueIndex:uq_chat_threads_business_client"`
	Title          string    `json:"title" gorm:"type:varchar(255);not null"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChatMessage is one logged inbound or outbound message in a thread.
type ChatMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	BusinessID  uint      `json:"business_id" gorm:"index;not null"`
	ThreadID    uint      `json:"thread_id" gorm:"index;not null"`
	Direction   string    `json:"direction" gorm:"type:varchar(3);not null"`
	Text        string    `json:"text" gorm:"type:varchar(4096);not null"`
	TgMessageID *int64    `json:"tg_message_id,omitempty" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}
