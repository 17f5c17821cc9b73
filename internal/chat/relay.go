// Package chat keeps the per-tenant message log: one thread per Telegram
// user, with the client record and thread created lazily on first contact.
package chat

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/model"
)

// Entry describes one message to append to a tenant's chat log.
type Entry struct {
	BusinessID  uint
	TgUserID    int64
	Title       string
	Direction   string
	Text        string
	TgMessageID *int64
}

// LogMessage appends a message to the (business, tg user) thread, creating
// the client and thread rows if this is the first contact. Runs in one
// transaction so a thread is never observable without its client.
func LogMessage(db *gorm.DB, entry Entry) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := ensureClient(tx, entry.BusinessID, entry.TgUserID, entry.Title); err != nil {
			return err
		}

		thread, err := getOrCreateThread(tx, entry.BusinessID, entry.TgUserID, entry.Title)
		if err != nil {
			return err
		}

		msg := model.ChatMessage{
			BusinessID:  entry.BusinessID,
			ThreadID:    thread.ID,
			Direction:   entry.Direction,
			Text:        entry.Text,
			TgMessageID: entry.TgMessageID,
		}
		return tx.Create(&msg).Error
	})
}

// EnsureClient creates the client record for a Telegram user on first
// contact. Exposed for the booking flow, which needs the row before commit.
func EnsureClient(db *gorm.DB, businessID uint, tgUserID int64, username string) (*model.Client, error) {
	var client model.Client
	err := db.Where("business_id = ? AND tg_user_id = ?", businessID, tgUserID).First(&client).Error
	if err == nil {
		return &client, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	client = model.Client{
		BusinessID: businessID,
		TgUserID:   &tgUserID,
		Username:   username,
	}
	if err := db.Create(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func ensureClient(tx *gorm.DB, businessID uint, tgUserID int64, username string) error {
	_, err := EnsureClient(tx, businessID, tgUserID, username)
	return err
}

func getOrCreateThread(tx *gorm.DB, businessID uint, tgUserID int64, title string) (*model.ChatThread, error) {
	var thread model.ChatThread
	err := tx.Where("business_id = ? AND client_tg_user_id = ?", businessID, tgUserID).First(&thread).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		thread = model.ChatThread{
			BusinessID:     businessID,
			ClientTgUserID: tgUserID,
			Title:          title,
		}
		if err := tx.Create(&thread).Error; err != nil {
			return nil, err
		}
		return &thread, nil
	}

	// Keep the existing title when the new candidate is empty; otherwise
	// the freshest known name wins.
	updates := map[string]interface{}{"updated_at": time.Now()}
	if title != "" && thread.Title != title {
		thread.Title = title
		updates["title"] = title
	}
	if err := tx.Model(&thread).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &thread, nil
}
