package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/bot"
	"github.com/speymell/crmbot/internal/booking"
	"github.com/speymell/crmbot/internal/chat"
	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/config"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

// BotHandler owns the Telegram-facing endpoints. Unlike the plain CRUD
// handlers it carries state: the client registry and the booking flow.
type BotHandler struct {
	registry *bot.Registry
	flow     *booking.Flow
	cfg      *config.BotConfig
}

func NewBotHandler(registry *bot.Registry, flow *booking.Flow, cfg *config.BotConfig) *BotHandler {
	return &BotHandler{registry: registry, flow: flow, cfg: cfg}
}

// SetToken stores (or replaces) the business's bot credential. The raw
// token and its hash are written together; the webhook route only ever
// matches on the hash.
func (h *BotHandler) SetToken(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		BotToken    string `json:"bot_token"`
		BotUsername string `json:"bot_username"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	token := strings.TrimSpace(req.BotToken)
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bot_token is required"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		var cfg model.BotConfig
		err := tx.Where("business_id = ?", businessID).First(&cfg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cfg = model.BotConfig{
				BusinessID:   businessID,
				BotToken:     token,
				BotTokenHash: bot.TokenHash(token),
				BotUsername:  req.BotUsername,
				IsActive:     true,
			}
			return tx.Create(&cfg).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&cfg).Updates(map[string]interface{}{
			"bot_token":      token,
			"bot_token_hash": bot.TokenHash(token),
			"bot_username":   req.BotUsername,
			"is_active":      true,
		}).Error
	})
	if err != nil {
		log.Error("Failed to store bot token", zap.Uint("business_id", businessID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store bot token"})
	}

	if h.cfg.WebhookBaseURL != "" {
		url := strings.TrimRight(h.cfg.WebhookBaseURL, "/") + "/webhook/" + token
		if err := h.registry.Client(token).SetWebhook(c.Request().Context(), url); err != nil {
			// The credential is stored; webhook registration can be retried
			// by setting the token again.
			log.Error("Failed to register webhook", zap.Uint("business_id", businessID), zap.Error(err))
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// SendMessage pushes an outbound message to a client over the business's
// bot and logs it into the chat thread. No active bot config is a conflict,
// not a missing resource: the client may well exist.
func (h *BotHandler) SendMessage(c echo.Context) error {
	log := logger.FromContext(c)
	businessID, err := tenant.FromEcho(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
	}

	var req struct {
		TgUserID int64  `json:"tg_user_id"`
		Text     string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.TgUserID == 0 || req.Text == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tg_user_id and text are required"})
	}

	var cfg model.BotConfig
	err = database.GetDB().Where("business_id = ? AND is_active = ?", businessID, true).First(&cfg).Error
	if err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "no active bot configuration"})
	}

	msgID, err := h.registry.Client(cfg.BotToken).SendMessage(c.Request().Context(), req.TgUserID, req.Text, nil)
	if err != nil {
		log.Error("Failed to send message",
			zap.Uint("business_id", businessID),
			zap.Int64("tg_user_id", req.TgUserID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "failed to send message"})
	}
	prometheus.MessageSentCounter.WithLabelValues("chat").Inc()

	if err := chat.LogMessage(database.GetDB(), chat.Entry{
		BusinessID:  businessID,
		TgUserID:    req.TgUserID,
		Direction:   model.DirectionOut,
		Text:        req.Text,
		TgMessageID: &msgID,
	}); err != nil {
		log.Error("Failed to log outbound message", zap.Error(err))
	}

	return c.JSON(http.StatusOK, echo.Map{"tg_message_id": msgID})
}

// Webhook receives one Telegram update for the bot identified by the raw
// token in the path. An unknown token is rejected before anything is logged
// or stored. The resolved tenant is bound into the context for the whole
// dispatch; nothing downstream has a fallback tenant.
func (h *BotHandler) Webhook(c echo.Context) error {
	log := logger.FromContext(c)

	token := c.Param("token")
	businessID, err := h.registry.BusinessIDForToken(database.GetDB(), token)
	if err != nil {
		if errors.Is(err, bot.ErrUnknownBot) {
			prometheus.WebhookUpdateCounter.WithLabelValues("unknown_bot").Inc()
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown bot"})
		}
		log.Error("Webhook token resolution failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	var upd bot.Update
	if err := c.Bind(&upd); err != nil {
		prometheus.WebhookUpdateCounter.WithLabelValues("bad_payload").Inc()
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid update"})
	}

	if msg := upd.Message; msg != nil && msg.From != nil && msg.Text != "" {
		if err := chat.LogMessage(database.GetDB(), chat.Entry{
			BusinessID:  businessID,
			TgUserID:    msg.From.ID,
			Title:       msg.From.DisplayName(),
			Direction:   model.DirectionIn,
			Text:        msg.Text,
			TgMessageID: &msg.MessageID,
		}); err != nil {
			log.Error("Failed to log inbound message",
				zap.Uint("business_id", businessID),
				zap.Error(err))
		}
	}

	ctx := tenant.WithBusinessID(c.Request().Context(), businessID)
	if err := h.flow.HandleUpdate(ctx, h.registry.Client(token), &upd); err != nil {
		log.Error("Update dispatch failed",
			zap.Uint("business_id", businessID),
			zap.Error(err))
		// Telegram retries non-200 responses; a handler error is ours to
		// log, not the channel's to replay.
	}

	prometheus.WebhookUpdateCounter.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
