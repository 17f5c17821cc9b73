package handler

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/speymell/crmbot/internal/booking"
	"github.com/speymell/crmbot/internal/bot"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/config"
	"github.com/speymell/crmbot/pkg/database"
)

func setupMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })

	return mock
}

func newBotHandler() *BotHandler {
	registry := bot.NewRegistry("https://api.telegram.org")
	flow := booking.NewFlow(database.GetDB(), booking.NewStore(), 24*time.Hour)
	return NewBotHandler(registry, flow, &config.BotConfig{APIBaseURL: "https://api.telegram.org"})
}

// An unknown token is rejected before anything is logged or persisted: the
// only statement the mock sees is the registry lookup.
func TestWebhookUnknownBotRejectedBeforeLogging(t *testing.T) {
	mock := setupMockDB(t)
	h := newBotHandler()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	e := echo.New()
	body := `{"update_id":1,"message":{"message_id":5,"from":{"id":555,"username":"anna"},"chat":{"id":555},"text":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/bad-token", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/webhook/:token")
	c.SetParamNames("token")
	c.SetParamValues("bad-token")

	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown bot")
	require.NoError(t, mock.ExpectationsWereMet())
}

// A known token resolves the tenant and the inbound text lands in that
// tenant's chat log.
func TestWebhookLogsInboundForResolvedTenant(t *testing.T) {
	mock := setupMockDB(t)
	h := newBotHandler()

	token := "123456:ABC-DEF"
	cfgRows := sqlmock.NewRows([]string{"id", "business_id", "bot_token", "bot_token_hash", "is_active"}).
		AddRow(1, 7, token, bot.TokenHash(token), true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WithArgs(bot.TokenHash(token), true, 1).
		WillReturnRows(cfgRows)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "clients"`)).
		WithArgs(uint(7), int64(555), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "tg_user_id"}).AddRow(77, 7, 555))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "chat_threads"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "client_tg_user_id", "title"}).
			AddRow(10, 7, 555, "@anna"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "chat_threads"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "chat_messages"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectCommit()

	e := echo.New()
	body := `{"update_id":1,"message":{"message_id":5,"from":{"id":555,"username":"anna"},"chat":{"id":555},"text":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+token, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/webhook/:token")
	c.SetParamNames("token")
	c.SetParamValues(token)

	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Setting a credential stores the hash the registry later resolves by:
// the management write and the webhook lookup agree on the same digest.
func TestSetTokenThenResolveRoundTrip(t *testing.T) {
	mock := setupMockDB(t)
	h := newBotHandler()

	token := "999:NEW-TOKEN"

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "bot_configs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/bot/token",
		strings.NewReader(`{"bot_token":"`+token+`","bot_username":"mybot"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(tenant.WithBusinessID(req.Context(), 7))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.SetToken(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// The registry must find the business under the stored hash, and only
	// under that hash.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WithArgs(bot.TokenHash(token), true, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "bot_token", "bot_token_hash", "is_active"}).
			AddRow(1, 7, token, bot.TokenHash(token), true))

	registry := bot.NewRegistry("https://api.telegram.org")
	businessID, err := registry.BusinessIDForToken(database.GetDB(), token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), businessID)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WithArgs(bot.TokenHash("999:OTHER-TOKEN"), true, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = registry.BusinessIDForToken(database.GetDB(), "999:OTHER-TOKEN")
	assert.ErrorIs(t, err, bot.ErrUnknownBot)

	require.NoError(t, mock.ExpectationsWereMet())
}

// Sending with no active bot configuration is a conflict, not a 404.
func TestSendMessageWithoutBotConfigConflicts(t *testing.T) {
	mock := setupMockDB(t)
	h := newBotHandler()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/send",
		strings.NewReader(`{"tg_user_id":555,"text":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(tenant.WithBusinessID(req.Context(), 7))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.SendMessage(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
