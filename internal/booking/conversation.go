package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/bot"
	"github.com/speymell/crmbot/internal/chat"
	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/prometheus"
)

// Main menu button labels and the commands the flow reacts to.
const (
	ButtonBook    = "Book"
	ButtonHistory = "My history"
	ButtonPrices  = "Prices"
	ButtonMasters = "Masters"
)

// Callback data prefixes. Each selection screen encodes the chosen id after
// its prefix.
const (
	cbMasterPrefix     = "book_master_"
	cbServicePrefix    = "book_service_"
	cbDatePrefix       = "book_date_"
	cbTimePrefix       = "book_time_"
	cbMasterInfoPrefix = "master_"
)

const (
	bookingDays   = 7
	firstSlotHour = 9
	lastSlotHour  = 18
)

// reminderTemplateKey names the notification template queued on commit.
const reminderTemplateKey = "appointment_reminder"

// Messenger is the outbound side of the conversation. Production uses
// *bot.Client; tests substitute a recorder.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *bot.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// Flow drives the booking conversation: master → service → date → time →
// committed appointment. One Flow serves every tenant; the per-conversation
// state lives in the Store and the tenant comes strictly from the context
// established by the webhook dispatch.
type Flow struct {
	db           *gorm.DB
	store        *Store
	reminderLead time.Duration
	now          func() time.Time
}

func NewFlow(db *gorm.DB, store *Store, reminderLead time.Duration) *Flow {
	return &Flow{
		db:           db,
		store:        store,
		reminderLead: reminderLead,
		now:          time.Now,
	}
}

// HandleUpdate advances the conversation for one inbound update. The
// business id must already be bound into ctx; there is no fallback tenant.
func (f *Flow) HandleUpdate(ctx context.Context, m Messenger, upd *bot.Update) error {
	businessID, err := tenant.BusinessID(ctx)
	if err != nil {
		return err
	}

	switch {
	case upd.Message != nil && upd.Message.From != nil:
		return f.handleMessage(ctx, m, businessID, upd.Message)
	case upd.CallbackQuery != nil:
		return f.handleCallback(ctx, m, businessID, upd.CallbackQuery)
	}
	return nil
}

func (f *Flow) handleMessage(ctx context.Context, m Messenger, businessID uint, msg *bot.Message) error {
	switch strings.TrimSpace(msg.Text) {
	case "/start":
		if _, err := chat.EnsureClient(f.db, businessID, msg.From.ID, msg.From.DisplayName()); err != nil {
			return err
		}
		_, err := m.SendMessage(ctx, msg.Chat.ID, "Choose an action:", mainMenuKeyboard())
		return err
	case ButtonBook, "/book":
		return f.startBooking(ctx, m, businessID, msg)
	case ButtonHistory:
		return f.sendHistory(ctx, m, businessID, msg)
	case ButtonPrices:
		return f.sendPrices(ctx, m, businessID, msg.Chat.ID)
	case ButtonMasters:
		return f.sendMasters(ctx, m, businessID, msg.Chat.ID)
	}
	return nil
}

func (f *Flow) handleCallback(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery) error {
	if cb.Message == nil {
		return m.AnswerCallbackQuery(ctx, cb.ID, "")
	}

	switch {
	case strings.HasPrefix(cb.Data, cbMasterPrefix):
		return f.chooseMaster(ctx, m, businessID, cb)
	case strings.HasPrefix(cb.Data, cbServicePrefix):
		return f.chooseService(ctx, m, businessID, cb)
	case strings.HasPrefix(cb.Data, cbDatePrefix):
		return f.chooseDate(ctx, m, businessID, cb)
	case strings.HasPrefix(cb.Data, cbTimePrefix):
		return f.chooseTime(ctx, m, businessID, cb)
	case strings.HasPrefix(cb.Data, cbMasterInfoPrefix):
		return f.showMaster(ctx, m, businessID, cb)
	}
	return m.AnswerCallbackQuery(ctx, cb.ID, "")
}

// startBooking begins (or restarts) the flow. A booking intent while a
// conversation is already running simply replaces it from the first step.
func (f *Flow) startBooking(ctx context.Context, m Messenger, businessID uint, msg *bot.Message) error {
	var masters []model.Master
	err := f.db.Where("business_id = ? AND is_bookable = ?", businessID, true).
		Order("display_name").Find(&masters).Error
	if err != nil {
		return err
	}

	if len(masters) == 0 {
		_, err := m.SendMessage(ctx, msg.Chat.ID, "No masters are available for booking right now.", nil)
		return err
	}

	markup := &bot.InlineKeyboardMarkup{}
	for _, master := range masters {
		markup.InlineKeyboard = append(markup.InlineKeyboard, []bot.InlineKeyboardButton{{
			Text:         master.DisplayName,
			CallbackData: cbMasterPrefix + strconv.FormatUint(uint64(master.ID), 10),
		}})
	}

	if _, err := m.SendMessage(ctx, msg.Chat.ID, "Choose a master:", markup); err != nil {
		return err
	}

	f.store.Put(businessID, msg.Chat.ID, Selection{State: StateChoosingMaster})
	return nil
}

func (f *Flow) chooseMaster(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery) error {
	chatID := cb.Message.Chat.ID

	sel, ok := f.store.Get(businessID, chatID)
	if !ok || sel.State != StateChoosingMaster {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please start the booking again.")
	}

	masterID, err := parseID(cb.Data, cbMasterPrefix)
	if err != nil {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please start the booking again.")
	}

	var services []model.Service
	err = f.db.Where("business_id = ? AND is_active = ?", businessID, true).
		Order("name").Find(&services).Error
	if err != nil {
		return err
	}

	if len(services) == 0 {
		f.store.Clear(businessID, chatID)
		if err := m.EditMessageText(ctx, chatID, cb.Message.MessageID, "No services are available right now.", nil); err != nil {
			return err
		}
		return m.AnswerCallbackQuery(ctx, cb.ID, "")
	}

	markup := &bot.InlineKeyboardMarkup{}
	for _, svc := range services {
		label := fmt.Sprintf("%s — %d (%d min)", svc.Name, svc.Price, svc.DurationMin)
		markup.InlineKeyboard = append(markup.InlineKeyboard, []bot.InlineKeyboardButton{{
			Text:         label,
			CallbackData: cbServicePrefix + strconv.FormatUint(uint64(svc.ID), 10),
		}})
	}

	if err := m.EditMessageText(ctx, chatID, cb.Message.MessageID, "Choose a service:", markup); err != nil {
		return err
	}

	sel.MasterID = masterID
	sel.State = StateChoosingService
	f.store.Put(businessID, chatID, sel)
	return m.AnswerCallbackQuery(ctx, cb.ID, "")
}

func (f *Flow) chooseService(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery) error {
	chatID := cb.Message.Chat.ID

	sel, ok := f.store.Get(businessID, chatID)
	if !ok || sel.State != StateChoosingService {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please start the booking again.")
	}

	serviceID, err := parseID(cb.Data, cbServicePrefix)
	if err != nil {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please start the booking again.")
	}

	markup := &bot.InlineKeyboardMarkup{}
	today := f.today()
	for i := 0; i < bookingDays; i++ {
		day := today.AddDate(0, 0, i)
		markup.InlineKeyboard = append(markup.InlineKeyboard, []bot.InlineKeyboardButton{{
			Text:         day.Format("02.01 (Mon)"),
			CallbackData: cbDatePrefix + day.Format("2006-01-02"),
		}})
	}

	if err := m.EditMessageText(ctx, chatID, cb.Message.MessageID, "Choose a date:", markup); err != nil {
		return err
	}

	sel.ServiceID = serviceID
	sel.State = StateChoosingDate
	f.store.Put(businessID, chatID, sel)
	return m.AnswerCallbackQuery(ctx, cb.ID, "")
}

func (f *Flow) chooseDate(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery) error {
	chatID := cb.Message.Chat.ID

	sel, ok := f.store.Get(businessID, chatID)
	if !ok || sel.State != StateChoosingDate {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please start the booking again.")
	}

	dateStr := strings.TrimPrefix(cb.Data, cbDatePrefix)
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please pick a date from the list.")
	}

	today := f.today()
	if day.Before(today) || day.After(today.AddDate(0, 0, bookingDays-1)) {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please pick a date from the list.")
	}

	markup := &bot.InlineKeyboardMarkup{}
	for hour := firstSlotHour; hour <= lastSlotHour; hour++ {
		slot := fmt.Sprintf("%02d:00", hour)
		markup.InlineKeyboard = append(markup.InlineKeyboard, []bot.InlineKeyboardButton{{
			Text:         slot,
			CallbackData: cbTimePrefix + slot,
		}})
	}

	prompt := fmt.Sprintf("Choose a time for %s:", dateStr)
	if err := m.EditMessageText(ctx, chatID, cb.Message.MessageID, prompt, markup); err != nil {
		return err
	}

	sel.Date = dateStr
	sel.State = StateChoosingTime
	f.store.Put(businessID, chatID, sel)
	return m.AnswerCallbackQuery(ctx, cb.ID, "")
}

func (f *Flow) chooseTime(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery) error {
	chatID := cb.Message.Chat.ID

	sel, ok := f.store.Get(businessID, chatID)
	if !ok || sel.State != StateChoosingTime || sel.MasterID == 0 || sel.ServiceID == 0 || sel.Date == "" {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please start the booking again.")
	}

	timeStr := strings.TrimPrefix(cb.Data, cbTimePrefix)
	if !validSlot(timeStr) {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please pick a time from the list.")
	}

	return f.commit(ctx, m, businessID, cb, sel, timeStr)
}

// commit materializes the appointment. The service and master are re-read
// within the tenant scope: either of them vanishing mid-flow aborts the
// whole commit instead of producing a half-populated appointment. The
// appointment, its work-history row and the reminder are one transaction.
func (f *Flow) commit(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery, sel Selection, timeStr string) error {
	chatID := cb.Message.Chat.ID

	client, err := chat.EnsureClient(f.db, businessID, cb.From.ID, cb.From.DisplayName())
	if err != nil {
		return err
	}

	var service model.Service
	err = f.db.Where("id = ? AND business_id = ?", sel.ServiceID, businessID).First(&service).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			prometheus.RecordBookingError("stale_service")
			return f.abort(ctx, m, businessID, cb, "That service is no longer available. Please start the booking again.")
		}
		return err
	}

	var master model.Master
	err = f.db.Where("id = ? AND business_id = ?", sel.MasterID, businessID).First(&master).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			prometheus.RecordBookingError("stale_master")
			return f.abort(ctx, m, businessID, cb, "That master is no longer available. Please start the booking again.")
		}
		return err
	}

	startAt, err := time.ParseInLocation("2006-01-02 15:04", sel.Date+" "+timeStr, time.Local)
	if err != nil {
		return m.AnswerCallbackQuery(ctx, cb.ID, "Please start the booking again.")
	}
	// Duration is frozen here: a catalog edit mid-flow must not shift the
	// end time of an already chosen slot.
	endAt := startAt.Add(time.Duration(service.DurationMin) * time.Minute)

	price := service.Price
	durationMin := service.DurationMin

	err = f.db.Transaction(func(tx *gorm.DB) error {
		appt := model.Appointment{
			BusinessID:  businessID,
			ClientID:    client.ID,
			MasterID:    master.ID,
			ServiceID:   &service.ID,
			StartAt:     startAt,
			EndAt:       endAt,
			Status:      model.AppointmentBooked,
			Source:      model.SourceTelegram,
			Price:       &price,
			DurationMin: &durationMin,
		}
		if err := tx.Create(&appt).Error; err != nil {
			return err
		}

		history := model.WorkHistory{
			BusinessID:    businessID,
			AppointmentID: &appt.ID,
			ClientID:      client.ID,
			MasterID:      master.ID,
			ServiceName:   service.Name,
			Price:         &price,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}

		return f.queueReminder(tx, businessID, &appt, client, master.DisplayName, service.Name, cb.From.ID)
	})
	if err != nil {
		prometheus.RecordBookingError("commit_failed")
		return f.abort(ctx, m, businessID, cb, "Something went wrong while saving your booking. Please try again.")
	}

	prometheus.BookingCreatedCounter.Inc()
	f.store.Clear(businessID, chatID)

	confirmation := fmt.Sprintf(
		"Booking confirmed!\n\nMaster: %s\nService: %s\nDate: %s\nTime: %s\nPrice: %d",
		master.DisplayName, service.Name, startAt.Format("02.01.2006"), startAt.Format("15:04"), price,
	)
	if err := m.EditMessageText(ctx, chatID, cb.Message.MessageID, confirmation, nil); err != nil {
		return err
	}
	return m.AnswerCallbackQuery(ctx, cb.ID, "Booking created!")
}

// queueReminder schedules the pre-appointment reminder inside the commit
// transaction. Appointments too close to start simply get no reminder.
func (f *Flow) queueReminder(tx *gorm.DB, businessID uint, appt *model.Appointment, client *model.Client, masterName, serviceName string, tgUserID int64) error {
	if f.reminderLead <= 0 {
		return nil
	}
	sendAt := appt.StartAt.Add(-f.reminderLead)
	if !sendAt.After(f.now()) {
		return nil
	}

	text := fmt.Sprintf("Reminder: you have an appointment with %s for %s on %s at %s.",
		masterName, serviceName, appt.StartAt.Format("02.01.2006"), appt.StartAt.Format("15:04"))

	reminder := model.ScheduledNotification{
		BusinessID:    businessID,
		AppointmentID: &appt.ID,
		ClientID:      client.ID,
		TemplateKey:   reminderTemplateKey,
		Payload: datatypes.JSONMap{
			"chat_id": tgUserID,
			"text":    text,
		},
		SendAt: sendAt,
		Status: model.NotificationPending,
	}
	return tx.Create(&reminder).Error
}

// abort clears the conversation and tells the participant what happened.
func (f *Flow) abort(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery, text string) error {
	f.store.Clear(businessID, cb.Message.Chat.ID)
	if err := m.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text, nil); err != nil {
		return err
	}
	return m.AnswerCallbackQuery(ctx, cb.ID, "")
}

// sendHistory lists the participant's recent appointments. Pure read path,
// no state machine involvement.
func (f *Flow) sendHistory(ctx context.Context, m Messenger, businessID uint, msg *bot.Message) error {
	client, err := chat.EnsureClient(f.db, businessID, msg.From.ID, msg.From.DisplayName())
	if err != nil {
		return err
	}

	var appointments []model.Appointment
	err = f.db.Where("business_id = ? AND client_id = ?", businessID, client.ID).
		Order("start_at DESC").Limit(10).Find(&appointments).Error
	if err != nil {
		return err
	}

	if len(appointments) == 0 {
		_, err := m.SendMessage(ctx, msg.Chat.ID, "You have no bookings yet.", nil)
		return err
	}

	masterNames, err := f.masterNames(businessID, appointments)
	if err != nil {
		return err
	}
	serviceNames, err := f.serviceNames(businessID, appointments)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("Your bookings:\n\n")
	for _, appt := range appointments {
		serviceName := "Service"
		if appt.ServiceID != nil {
			if name, ok := serviceNames[*appt.ServiceID]; ok {
				serviceName = name
			}
		}
		masterName := "Unknown"
		if name, ok := masterNames[appt.MasterID]; ok {
			masterName = name
		}
		fmt.Fprintf(&b, "%s\nMaster: %s\nService: %s\nStatus: %s\n\n",
			appt.StartAt.Format("02.01.2006 15:04"), masterName, serviceName, appt.Status)
	}

	_, err = m.SendMessage(ctx, msg.Chat.ID, b.String(), nil)
	return err
}

func (f *Flow) sendPrices(ctx context.Context, m Messenger, businessID uint, chatID int64) error {
	var services []model.Service
	err := f.db.Where("business_id = ? AND is_active = ?", businessID, true).
		Order("sort_order, name").Find(&services).Error
	if err != nil {
		return err
	}

	if len(services) == 0 {
		_, err := m.SendMessage(ctx, chatID, "No services yet.", nil)
		return err
	}

	lines := make([]string, 0, len(services))
	for _, svc := range services {
		lines = append(lines, fmt.Sprintf("%s — %d", svc.Name, svc.Price))
	}
	_, err = m.SendMessage(ctx, chatID, strings.Join(lines, "\n"), nil)
	return err
}

func (f *Flow) sendMasters(ctx context.Context, m Messenger, businessID uint, chatID int64) error {
	var masters []model.Master
	err := f.db.Where("business_id = ?", businessID).Order("display_name").Find(&masters).Error
	if err != nil {
		return err
	}

	if len(masters) == 0 {
		_, err := m.SendMessage(ctx, chatID, "No masters yet.", nil)
		return err
	}

	markup := &bot.InlineKeyboardMarkup{}
	for _, master := range masters {
		markup.InlineKeyboard = append(markup.InlineKeyboard, []bot.InlineKeyboardButton{{
			Text:         master.DisplayName,
			CallbackData: cbMasterInfoPrefix + strconv.FormatUint(uint64(master.ID), 10),
		}})
	}
	_, err = m.SendMessage(ctx, chatID, "Our masters:", markup)
	return err
}

func (f *Flow) showMaster(ctx context.Context, m Messenger, businessID uint, cb *bot.CallbackQuery) error {
	masterID, err := parseID(cb.Data, cbMasterInfoPrefix)
	if err != nil {
		return m.AnswerCallbackQuery(ctx, cb.ID, "")
	}

	var master model.Master
	err = f.db.Where("id = ? AND business_id = ?", masterID, businessID).First(&master).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return m.AnswerCallbackQuery(ctx, cb.ID, "Master not found.")
		}
		return err
	}

	text := master.DisplayName
	if master.Bio != "" {
		text += "\n\n" + master.Bio
	}
	if err := m.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text, nil); err != nil {
		return err
	}
	return m.AnswerCallbackQuery(ctx, cb.ID, "")
}

func (f *Flow) masterNames(businessID uint, appointments []model.Appointment) (map[uint]string, error) {
	ids := make([]uint, 0, len(appointments))
	for _, appt := range appointments {
		ids = append(ids, appt.MasterID)
	}

	var masters []model.Master
	if err := f.db.Where("business_id = ? AND id IN ?", businessID, ids).Find(&masters).Error; err != nil {
		return nil, err
	}

	names := make(map[uint]string, len(masters))
	for _, master := range masters {
		names[master.ID] = master.DisplayName
	}
	return names, nil
}

func (f *Flow) serviceNames(businessID uint, appointments []model.Appointment) (map[uint]string, error) {
	ids := make([]uint, 0, len(appointments))
	for _, appt := range appointments {
		if appt.ServiceID != nil {
			ids = append(ids, *appt.ServiceID)
		}
	}
	if len(ids) == 0 {
		return map[uint]string{}, nil
	}

	var services []model.Service
	if err := f.db.Where("business_id = ? AND id IN ?", businessID, ids).Find(&services).Error; err != nil {
		return nil, err
	}

	names := make(map[uint]string, len(services))
	for _, svc := range services {
		names[svc.ID] = svc.Name
	}
	return names, nil
}

func (f *Flow) today() time.Time {
	now := f.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
}

func mainMenuKeyboard() *bot.ReplyKeyboardMarkup {
	return &bot.ReplyKeyboardMarkup{
		Keyboard: [][]bot.KeyboardButton{
			{{Text: ButtonBook}},
			{{Text: ButtonHistory}},
			{{Text: ButtonPrices}},
			{{Text: ButtonMasters}},
		},
		ResizeKeyboard:        true,
		InputFieldPlaceholder: "Choose an action",
	}
}

func parseID(data, prefix string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("booking: bad callback id in %q", data)
	}
	return uint(id), nil
}

func validSlot(slot string) bool {
	for hour := firstSlotHour; hour <= lastSlotHour; hour++ {
		if slot == fmt.Sprintf("%02d:00", hour) {
			return true
		}
	}
	return false
}
