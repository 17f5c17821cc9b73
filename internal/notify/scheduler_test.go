package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/speymell/crmbot/internal/bot"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return db, mock
}

func dueRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "business_id", "client_id", "template_key", "payload", "status"}).
		AddRow(1, 7, 77, "appointment_reminder",
			[]byte(`{"chat_id": 555, "text": "Reminder: tomorrow at 10:00."}`), "pending")
}

func botConfigRows(token string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "business_id", "bot_token", "bot_token_hash", "is_active"}).
		AddRow(1, 7, token, bot.TokenHash(token), true)
}

func TestRunDueDeliversAndMarksSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":     true,
			"result": map[string]interface{}{"message_id": 42},
		})
	}))
	defer srv.Close()

	db, mock := newMockDB(t)
	s := NewScheduler(db, bot.NewRegistry(srv.URL), zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "scheduled_notifications"`)).
		WillReturnRows(dueRows())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WillReturnRows(botConfigRows("123:abc"))

	// Outbound reminder lands in the chat log.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "clients"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "tg_user_id"}).AddRow(77, 7, 555))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "chat_threads"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "client_tg_user_id", "title"}).
			AddRow(10, 7, 555, "@anna"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "chat_threads"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "chat_messages"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "scheduled_notifications"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RunDue(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// A rejected send leaves the row pending for the next tick.
func TestRunDueKeepsRowPendingOnSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          false,
			"error_code":  403,
			"description": "Forbidden: bot was blocked by the user",
		})
	}))
	defer srv.Close()

	db, mock := newMockDB(t)
	s := NewScheduler(db, bot.NewRegistry(srv.URL), zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "scheduled_notifications"`)).
		WillReturnRows(dueRows())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "bot_configs"`)).
		WillReturnRows(botConfigRows("123:abc"))

	// No status update: the batch logs the failure and moves on.
	require.NoError(t, s.RunDue(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// A payload with no destination can never be delivered; it is failed
// permanently instead of clogging every future tick.
func TestRunDueFailsUndeliverablePayload(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewScheduler(db, bot.NewRegistry("https://api.telegram.org"), zap.NewNop())

	rows := sqlmock.NewRows([]string{"id", "business_id", "client_id", "template_key", "payload", "status"}).
		AddRow(1, 7, 77, "appointment_reminder", []byte(`{"text": "no chat id"}`), "pending")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "scheduled_notifications"`)).
		WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "scheduled_notifications"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RunDue(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPayloadInt64(t *testing.T) {
	v, ok := payloadInt64(map[string]interface{}{"chat_id": float64(555)}, "chat_id")
	assert.True(t, ok)
	assert.Equal(t, int64(555), v)

	_, ok = payloadInt64(map[string]interface{}{"chat_id": "555"}, "chat_id")
	assert.False(t, ok)

	_, ok = payloadInt64(map[string]interface{}{}, "chat_id")
	assert.False(t, ok)
}
