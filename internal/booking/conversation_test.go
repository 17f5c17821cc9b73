package booking

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/speymell/crmbot/internal/bot"
	"github.com/speymell/crmbot/internal/tenant"
)

type sentMessage struct {
	chatID int64
	text   string
	markup interface{}
}

type editedMessage struct {
	chatID    int64
	messageID int64
	text      string
	markup    *bot.InlineKeyboardMarkup
}

// recorder implements Messenger and captures everything the flow sends.
type recorder struct {
	sent    []sentMessage
	edits   []editedMessage
	answers []string
	nextID  int64
}

func (r *recorder) SendMessage(_ context.Context, chatID int64, text string, markup interface{}) (int64, error) {
	r.sent = append(r.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	r.nextID++
	return r.nextID, nil
}

func (r *recorder) EditMessageText(_ context.Context, chatID, messageID int64, text string, markup *bot.InlineKeyboardMarkup) error {
	r.edits = append(r.edits, editedMessage{chatID: chatID, messageID: messageID, text: text, markup: markup})
	return nil
}

func (r *recorder) AnswerCallbackQuery(_ context.Context, _, text string) error {
	r.answers = append(r.answers, text)
	return nil
}

func newFlowDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
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

func fixedNow() time.Time {
	return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.Local)
}

const (
	testBusinessID = uint(7)
	testChatID     = int64(1000)
	testTgUserID   = int64(555)
)

func testCtx() context.Context {
	return tenant.WithBusinessID(context.Background(), testBusinessID)
}

func messageUpdate(text string) *bot.Update {
	return &bot.Update{Message: &bot.Message{
		MessageID: 1,
		From:      &bot.User{ID: testTgUserID, Username: "anna"},
		Chat:      bot.Chat{ID: testChatID},
		Text:      text,
	}}
}

func callbackUpdate(data string) *bot.Update {
	return &bot.Update{CallbackQuery: &bot.CallbackQuery{
		ID:   "cb-1",
		From: bot.User{ID: testTgUserID, Username: "anna"},
		Message: &bot.Message{
			MessageID: 2,
			Chat:      bot.Chat{ID: testChatID},
		},
		Data: data,
	}}
}

func masterRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "business_id", "display_name", "is_bookable"}).
		AddRow(3, testBusinessID, "Irina", true)
}

func serviceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "business_id", "name", "duration_min", "price", "is_active", "sort_order"}).
		AddRow(5, testBusinessID, "Manicure", 60, 1500, true, 0)
}

// Walks the whole conversation from intent to committed appointment and
// checks the transaction writes appointment, work history and reminder
// together, with the end time derived from the duration at booking.
func TestFlowBookingEndToEnd(t *testing.T) {
	db, mock := newFlowDB(t)
	store := NewStore()
	flow := NewFlow(db, store, 24*time.Hour)
	flow.now = fixedNow
	rec := &recorder{}

	// Book: list bookable masters.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "masters"`)).WillReturnRows(masterRows())
	require.NoError(t, flow.HandleUpdate(testCtx(), rec, messageUpdate(ButtonBook)))
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "Choose a master:", rec.sent[0].text)

	sel, ok := store.Get(testBusinessID, testChatID)
	require.True(t, ok)
	assert.Equal(t, StateChoosingMaster, sel.State)

	// Master chosen: list active services.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "services"`)).WillReturnRows(serviceRows())
	require.NoError(t, flow.HandleUpdate(testCtx(), rec, callbackUpdate("book_master_3")))
	require.Len(t, rec.edits, 1)
	assert.Equal(t, "Choose a service:", rec.edits[0].text)

	// Service chosen: next seven days offered.
	require.NoError(t, flow.HandleUpdate(testCtx(), rec, callbackUpdate("book_service_5")))
	require.Len(t, rec.edits, 2)
	assert.Equal(t, "Choose a date:", rec.edits[1].text)
	require.NotNil(t, rec.edits[1].markup)
	assert.Len(t, rec.edits[1].markup.InlineKeyboard, 7)
	assert.Equal(t, "book_date_2024-06-01", rec.edits[1].markup.InlineKeyboard[0][0].CallbackData)

	// Date chosen: hourly slots 09:00 through 18:00.
	require.NoError(t, flow.HandleUpdate(testCtx(), rec, callbackUpdate("book_date_2024-06-03")))
	require.Len(t, rec.edits, 3)
	require.NotNil(t, rec.edits[2].markup)
	assert.Len(t, rec.edits[2].markup.InlineKeyboard, 10)
	assert.Equal(t, "book_time_09:00", rec.edits[2].markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "book_time_18:00", rec.edits[2].markup.InlineKeyboard[9][0].CallbackData)

	// Time chosen: commit.
	clientRows := sqlmock.NewRows([]string{"id", "business_id", "tg_user_id", "username"}).
		AddRow(77, testBusinessID, testTgUserID, "@anna")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "clients"`)).WillReturnRows(clientRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "services"`)).WillReturnRows(serviceRows())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "masters"`)).WillReturnRows(masterRows())

	startAt := time.Date(2024, time.June, 3, 10, 0, 0, 0, time.Local)
	endAt := startAt.Add(60 * time.Minute)

	mock.ExpectBegin()
	// Column order follows the model: business, client, master, service,
	// start, end, status, source, price, duration, comment, timestamps.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "appointments"`)).
		WithArgs(testBusinessID, uint(77), uint(3), sqlmock.AnyArg(), startAt, endAt,
			"booked", "telegram", 1500, 60, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(500))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "work_history"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(600))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "scheduled_notifications"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(700))
	mock.ExpectCommit()

	require.NoError(t, flow.HandleUpdate(testCtx(), rec, callbackUpdate("book_time_10:00")))

	require.Len(t, rec.edits, 4)
	confirmation := rec.edits[3].text
	assert.Contains(t, confirmation, "Booking confirmed!")
	assert.Contains(t, confirmation, "Irina")
	assert.Contains(t, confirmation, "Manicure")
	assert.Contains(t, confirmation, "03.06.2024")
	assert.Contains(t, confirmation, "10:00")
	assert.Contains(t, confirmation, "1500")
	assert.Equal(t, "Booking created!", rec.answers[len(rec.answers)-1])

	_, ok = store.Get(testBusinessID, testChatID)
	assert.False(t, ok, "conversation state must be cleared after commit")

	require.NoError(t, mock.ExpectationsWereMet())
}

// A booking intent mid-conversation restarts from the first step and
// invalidates the earlier keyboards.
func TestFlowRestartInvalidatesStaleButtons(t *testing.T) {
	db, mock := newFlowDB(t)
	store := NewStore()
	flow := NewFlow(db, store, 24*time.Hour)
	flow.now = fixedNow
	rec := &recorder{}

	store.Put(testBusinessID, testChatID, Selection{
		State: StateChoosingDate, MasterID: 3, ServiceID: 5,
	})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "masters"`)).WillReturnRows(masterRows())
	require.NoError(t, flow.HandleUpdate(testCtx(), rec, messageUpdate(ButtonBook)))

	sel, ok := store.Get(testBusinessID, testChatID)
	require.True(t, ok)
	assert.Equal(t, StateChoosingMaster, sel.State)
	assert.Zero(t, sel.ServiceID)

	// The date keyboard from the abandoned conversation is now stale.
	require.NoError(t, flow.HandleUpdate(testCtx(), rec, callbackUpdate("book_date_2024-06-03")))
	assert.Equal(t, "Please start the booking again.", rec.answers[len(rec.answers)-1])

	sel, ok = store.Get(testBusinessID, testChatID)
	require.True(t, ok)
	assert.Equal(t, StateChoosingMaster, sel.State, "a stale button must not advance the restarted conversation")

	require.NoError(t, mock.ExpectationsWereMet())
}

// A service deleted between selection and commit aborts the booking with no
// partial writes.
func TestFlowCommitAbortsOnStaleService(t *testing.T) {
	db, mock := newFlowDB(t)
	store := NewStore()
	flow := NewFlow(db, store, 24*time.Hour)
	flow.now = fixedNow
	rec := &recorder{}

	store.Put(testBusinessID, testChatID, Selection{
		State: StateChoosingTime, MasterID: 3, ServiceID: 5, Date: "2024-06-03",
	})

	clientRows := sqlmock.NewRows([]string{"id", "business_id", "tg_user_id", "username"}).
		AddRow(77, testBusinessID, testTgUserID, "@anna")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "clients"`)).WillReturnRows(clientRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "services"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	require.NoError(t, flow.HandleUpdate(testCtx(), rec, callbackUpdate("book_time_10:00")))

	require.Len(t, rec.edits, 1)
	assert.Contains(t, rec.edits[0].text, "no longer available")

	_, ok := store.Get(testBusinessID, testChatID)
	assert.False(t, ok, "aborted conversation must be cleared")

	require.NoError(t, mock.ExpectationsWereMet())
}

// Without a tenant in the context the flow refuses to do anything at all.
func TestFlowRejectsMissingTenant(t *testing.T) {
	db, _ := newFlowDB(t)
	flow := NewFlow(db, NewStore(), 24*time.Hour)

	err := flow.HandleUpdate(context.Background(), &recorder{}, messageUpdate(ButtonBook))
	assert.Error(t, err)
}

func TestFlowDateOutsideWindowRejected(t *testing.T) {
	db, mock := newFlowDB(t)
	store := NewStore()
	flow := NewFlow(db, store, 24*time.Hour)
	flow.now = fixedNow
	rec := &recorder{}

	store.Put(testBusinessID, testChatID, Selection{
		State: StateChoosingDate, MasterID: 3, ServiceID: 5,
	})

	// Eighth day out: not on the offered keyboard.
	require.NoError(t, flow.HandleUpdate(testCtx(), rec, callbackUpdate("book_date_2024-06-09")))
	assert.Equal(t, "Please pick a date from the list.", rec.answers[len(rec.answers)-1])

	sel, ok := store.Get(testBusinessID, testChatID)
	require.True(t, ok)
	assert.Equal(t, StateChoosingDate, sel.State)

	require.NoError(t, mock.ExpectationsWereMet())
}
