package model

import "time"

// BotConfig stores one business's Telegram bot credential. The webhook path
// only ever matches on BotTokenHash; the raw token is kept because it is
// what the Bot API client needs to operate the channel.
type BotConfig struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	BusinessID   uint      `json:"business_id" gorm:"uniqueIndex;not null"`
	BotToken     string    `json:"-" gorm:"type:varchar(255);not null"`
	BotTokenHash string    `json:"-" gorm:"type:varchar(64);index;not null"`
	BotUsername  string    `json:"bot_username,omitempty" gorm:"type:varchar(255)"`
	IsActive     bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
