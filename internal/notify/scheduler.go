// Package notify delivers queued notifications such as appointment
// reminders. A cron loop scans the pending queue and pushes due rows out
// through each tenant's bot.
package notify

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/bot"
	"github.com/speymell/crmbot/internal/chat"
	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/prometheus"
)

// tickSpec is how often the pending queue is scanned.
const tickSpec = "@every 1m"

// Scheduler drains due rows from scheduled_notifications. Failed sends are
// left pending so the next tick retries them; only a confirmed delivery
// flips a row to sent.
type Scheduler struct {
	db       *gorm.DB
	registry *bot.Registry
	log      *zap.Logger
	cron     *cron.Cron
	now      func() time.Time
}

func NewScheduler(db *gorm.DB, registry *bot.Registry, log *zap.Logger) *Scheduler {
	return &Scheduler{
		db:       db,
		registry: registry,
		log:      log,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start launches the background tick loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(tickSpec, func() {
		if err := s.RunDue(context.Background()); err != nil {
			s.log.Error("notification tick failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunDue sends every pending notification whose send time has passed.
// Per-row failures are logged and skipped; they do not stop the batch.
func (s *Scheduler) RunDue(ctx context.Context) error {
	var due []model.ScheduledNotification
	err := s.db.Where("status = ? AND send_at <= ?", model.NotificationPending, s.now()).
		Order("send_at").Find(&due).Error
	if err != nil {
		return err
	}

	for i := range due {
		if err := s.deliver(ctx, &due[i]); err != nil {
			s.log.Error("notification delivery failed",
				zap.Uint("notification_id", due[i].ID),
				zap.Uint("business_id", due[i].BusinessID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) deliver(ctx context.Context, n *model.ScheduledNotification) error {
	chatID, ok := payloadInt64(n.Payload, "chat_id")
	if !ok {
		// Undeliverable payload, retrying will never help.
		return s.markFailed(n)
	}
	text, _ := n.Payload["text"].(string)
	if text == "" {
		return s.markFailed(n)
	}

	var cfg model.BotConfig
	err := s.db.Where("business_id = ? AND is_active = ?", n.BusinessID, true).First(&cfg).Error
	if err != nil {
		// No active bot right now; keep the row pending in case one is
		// configured before the appointment.
		return err
	}

	msgID, err := s.registry.Client(cfg.BotToken).SendMessage(ctx, chatID, text, nil)
	if err != nil {
		return err
	}
	prometheus.MessageSentCounter.WithLabelValues("reminder").Inc()

	if err := chat.LogMessage(s.db, chat.Entry{
		BusinessID:  n.BusinessID,
		TgUserID:    chatID,
		Direction:   model.DirectionOut,
		Text:        text,
		TgMessageID: &msgID,
	}); err != nil {
		s.log.Error("reminder chat log failed", zap.Uint("notification_id", n.ID), zap.Error(err))
	}

	now := s.now()
	return s.db.Model(n).Updates(map[string]interface{}{
		"status":  model.NotificationSent,
		"sent_at": now,
	}).Error
}

func (s *Scheduler) markFailed(n *model.ScheduledNotification) error {
	return s.db.Model(n).Update("status", model.NotificationFailed).Error
}

// payloadInt64 reads a numeric payload field. Values round-trip through
// JSON, so they arrive as float64 once loaded from the database.
func payloadInt64(payload map[string]interface{}, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
