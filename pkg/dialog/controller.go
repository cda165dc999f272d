package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yclin-dev/medremind/pkg/bus"
	"github.com/yclin-dev/medremind/pkg/logger"
	"github.com/yclin-dev/medremind/pkg/store"
)

// Fixed keywords and menu labels, matching the bot's published rich menu.
const (
	kwCreate = "用藥提醒"
	kwEdit   = "修改用藥提醒"
	kwDone   = "完成"

	labelStartDate = "開始日期"
	labelEndDate   = "結束日期"
	labelTimes     = "提醒時間"
)

// Field keys bound to date picker actions; selections come back as
// date-selection events carrying the same key.
const (
	FieldStartDate     = "start_date"
	FieldEndDate       = "end_date"
	FieldEditStartDate = "edit_start_date"
	FieldEditEndDate   = "edit_end_date"
)

const (
	msgAskMedicine   = "請輸入要提醒的藥品名稱："
	msgAskStart      = "請選擇提醒開始日期："
	msgAskEnd        = "請選擇提醒結束日期："
	msgAskTimes      = "請輸入每天要提醒的時間（24小時制，可多個，用逗號分隔，如 08:00,12:00,18:00）："
	msgBadTimes      = "時間格式錯誤，請重新輸入（24小時制，如 08:00,12:00,18:00）："
	msgBadWindow     = "結束日期不可早於開始日期，請重新選擇結束日期："
	msgPickedStart   = "你選擇的開始日期為：%s"
	msgPickedEnd     = "你選擇的結束日期為：%s"
	msgCreated       = "已設定提醒：%s\n從 %s 到 %s\n每天：%s"
	msgChooseMed     = "請選擇你要修改的藥品："
	msgNoReminders   = "你還沒有設定過任何藥物提醒。"
	msgMedNotFound   = "查無此藥品提醒資料。"
	msgChooseField   = "請選擇要修改的欄位，或輸入 完成 結束："
	msgContinueField = "請選擇要繼續修改的欄位，或輸入 完成 結束："
	msgStartUpdated  = "開始日期已更新為：%s"
	msgEndUpdated    = "結束日期已更新為：%s"
	msgTimesUpdated  = "提醒時間已更新！"
	msgEditDone      = "已結束修改。"
	msgTryLater      = "系統忙碌中，請稍後再試。"
)

// Controller is the conversation state machine. It consumes inbound
// events, advances the user's session, and persists the result when a
// flow completes.
type Controller struct {
	store    store.Store
	sessions *SessionStore
	bus      *bus.MessageBus
}

func NewController(st store.Store, sessions *SessionStore, mb *bus.MessageBus) *Controller {
	return &Controller{
		store:    st,
		sessions: sessions,
		bus:      mb,
	}
}

// Run consumes inbound events until ctx is cancelled. Events the
// reminder flow does not claim go to fallback (drug lookup, pharmacy
// search); fallback may be nil.
func (c *Controller) Run(ctx context.Context, fallback func(context.Context, bus.InboundEvent)) {
	logger.InfoC("dialog", "Controller started")
	for {
		ev, ok := c.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("dialog", "Controller stopped")
			return
		}
		if c.HandleEvent(ctx, ev) {
			continue
		}
		if fallback != nil {
			fallback(ctx, ev)
		}
	}
}

// HandleEvent feeds one event through the state machine and reports
// whether the reminder flow consumed it.
func (c *Controller) HandleEvent(ctx context.Context, ev bus.InboundEvent) bool {
	switch ev.Kind {
	case bus.EventText:
		return c.handleText(ctx, ev)
	case bus.EventDateSelection:
		return c.handleDateSelection(ctx, ev)
	default:
		return false
	}
}

func (c *Controller) handleText(ctx context.Context, ev bus.InboundEvent) bool {
	text := strings.TrimSpace(ev.Text)

	switch text {
	case kwCreate:
		c.sessions.Begin(ev.UserID, StepAskMedicine)
		c.reply(ev, bus.OutboundMessage{Text: msgAskMedicine})
		return true
	case kwEdit:
		c.startEdit(ctx, ev)
		return true
	}

	sess, ok := c.sessions.Get(ev.UserID)
	if !ok {
		return false
	}

	switch sess.Step {
	case StepAskMedicine:
		sess.Medicine = text
		sess.Step = StepAskStart
		c.sessions.Touch(sess)
		c.reply(ev, bus.OutboundMessage{
			Text:       msgAskStart,
			DatePicker: &bus.DatePrompt{Label: "選擇開始日期", FieldKey: FieldStartDate},
		})
	case StepAskStart:
		// Typed ISO dates substitute for the picker on channels
		// without one; anything else re-issues the prompt.
		if IsISODate(text) {
			c.applyStartDate(ev, sess, text)
		} else {
			c.reply(ev, bus.OutboundMessage{
				Text:       msgAskStart,
				DatePicker: &bus.DatePrompt{Label: "選擇開始日期", FieldKey: FieldStartDate},
			})
		}
	case StepAskEnd:
		if IsISODate(text) {
			c.applyEndDate(ev, sess, text)
		} else {
			c.reply(ev, bus.OutboundMessage{
				Text:       msgAskEnd,
				DatePicker: &bus.DatePrompt{Label: "選擇結束日期", FieldKey: FieldEndDate},
			})
		}
	case StepAskTimes:
		c.completeCreation(ctx, ev, sess, text)
	case StepEditMedicine:
		c.selectEditTarget(ctx, ev, sess, text)
	case StepEditField:
		c.selectEditField(ev, sess, text)
	case StepEditStart:
		if IsISODate(text) {
			c.applyEditDate(ctx, ev, sess, FieldEditStartDate, text)
		} else {
			c.reply(ev, bus.OutboundMessage{
				Text:       "請選擇新的開始日期：",
				DatePicker: &bus.DatePrompt{Label: "選擇開始日期", FieldKey: FieldEditStartDate},
			})
		}
	case StepEditEnd:
		if IsISODate(text) {
			c.applyEditDate(ctx, ev, sess, FieldEditEndDate, text)
		} else {
			c.reply(ev, bus.OutboundMessage{
				Text:       "請選擇新的結束日期：",
				DatePicker: &bus.DatePrompt{Label: "選擇結束日期", FieldKey: FieldEditEndDate},
			})
		}
	case StepEditTimes:
		c.completeEditTimes(ctx, ev, sess, text)
	default:
		return false
	}
	return true
}

func (c *Controller) handleDateSelection(ctx context.Context, ev bus.InboundEvent) bool {
	sess, ok := c.sessions.Get(ev.UserID)
	if !ok {
		logger.DebugCF("dialog", "Date selection without session", map[string]interface{}{
			"user_id": ev.UserID,
			"field":   ev.FieldKey,
		})
		return false
	}

	switch ev.FieldKey {
	case FieldStartDate:
		if sess.Step != StepAskStart {
			return false
		}
		c.applyStartDate(ev, sess, ev.Date)
	case FieldEndDate:
		if sess.Step != StepAskEnd {
			return false
		}
		c.applyEndDate(ev, sess, ev.Date)
	case FieldEditStartDate, FieldEditEndDate:
		if sess.Step != StepEditStart && sess.Step != StepEditEnd {
			return false
		}
		c.applyEditDate(ctx, ev, sess, ev.FieldKey, ev.Date)
	default:
		return false
	}
	return true
}

func (c *Controller) applyStartDate(ev bus.InboundEvent, sess *Session, date string) {
	sess.StartDate = date
	sess.Step = StepAskEnd
	c.sessions.Touch(sess)

	c.reply(ev, bus.OutboundMessage{Text: fmt.Sprintf(msgPickedStart, date)})
	c.push(ev, bus.OutboundMessage{
		Text:       msgAskEnd,
		DatePicker: &bus.DatePrompt{Label: "選擇結束日期", FieldKey: FieldEndDate},
	})
}

func (c *Controller) applyEndDate(ev bus.InboundEvent, sess *Session, date string) {
	if date < sess.StartDate {
		c.reply(ev, bus.OutboundMessage{
			Text:       msgBadWindow,
			DatePicker: &bus.DatePrompt{Label: "選擇結束日期", FieldKey: FieldEndDate},
		})
		return
	}

	sess.EndDate = date
	sess.Step = StepAskTimes
	c.sessions.Touch(sess)

	c.reply(ev, bus.OutboundMessage{Text: fmt.Sprintf(msgPickedEnd, date)})
	c.push(ev, bus.OutboundMessage{Text: msgAskTimes})
}

func (c *Controller) completeCreation(ctx context.Context, ev bus.InboundEvent, sess *Session, text string) {
	times, err := ParseTimes(text)
	if err != nil {
		c.reply(ev, bus.OutboundMessage{Text: msgBadTimes})
		return
	}

	id, err := c.store.CreateReminder(ctx, ev.UserID, sess.Medicine, sess.StartDate, sess.EndDate, times)
	if err != nil {
		logger.ErrorCF("dialog", "Create reminder failed", map[string]interface{}{
			"user_id": ev.UserID,
			"error":   err.Error(),
		})
		c.reply(ev, bus.OutboundMessage{Text: msgTryLater})
		return
	}

	logger.InfoCF("dialog", "Reminder created", map[string]interface{}{
		"reminder_id": id,
		"user_id":     ev.UserID,
		"medicine":    sess.Medicine,
	})
	c.reply(ev, bus.OutboundMessage{
		Text: fmt.Sprintf(msgCreated, sess.Medicine, sess.StartDate, sess.EndDate, strings.Join(times, ", ")),
	})
	c.sessions.Clear(ev.UserID)
}

func (c *Controller) startEdit(ctx context.Context, ev bus.InboundEvent) {
	medicines, err := c.store.ListDistinctMedicines(ctx, ev.UserID)
	if err != nil {
		logger.ErrorCF("dialog", "List medicines failed", map[string]interface{}{
			"user_id": ev.UserID,
			"error":   err.Error(),
		})
		c.reply(ev, bus.OutboundMessage{Text: msgTryLater})
		return
	}
	if len(medicines) == 0 {
		c.reply(ev, bus.OutboundMessage{Text: msgNoReminders})
		return
	}

	menu := make([]bus.MenuItem, 0, len(medicines))
	for _, med := range medicines {
		menu = append(menu, bus.MenuItem{Label: med, Text: med})
	}

	c.sessions.Begin(ev.UserID, StepEditMedicine)
	c.reply(ev, bus.OutboundMessage{Text: msgChooseMed, Menu: menu})
}

func (c *Controller) selectEditTarget(ctx context.Context, ev bus.InboundEvent, sess *Session, medicine string) {
	rem, err := c.store.GetLatestByMedicine(ctx, ev.UserID, medicine)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.reply(ev, bus.OutboundMessage{Text: msgMedNotFound})
			c.sessions.Clear(ev.UserID)
			return
		}
		logger.ErrorCF("dialog", "Resolve edit target failed", map[string]interface{}{
			"user_id": ev.UserID,
			"error":   err.Error(),
		})
		c.reply(ev, bus.OutboundMessage{Text: msgTryLater})
		return
	}

	sess.Step = StepEditField
	sess.ReminderID = rem.ID
	sess.Medicine = medicine
	c.sessions.Touch(sess)

	text := fmt.Sprintf("你目前的提醒設定：\n藥品：%s\n開始：%s\n結束：%s\n時間：%s\n%s",
		medicine, rem.StartDate, rem.EndDate, strings.Join(rem.Times, ","), msgChooseField)
	c.reply(ev, bus.OutboundMessage{Text: text, Menu: editFieldMenu()})
}

func (c *Controller) selectEditField(ev bus.InboundEvent, sess *Session, field string) {
	switch field {
	case labelStartDate:
		sess.Step = StepEditStart
		c.sessions.Touch(sess)
		c.reply(ev, bus.OutboundMessage{
			Text:       "請選擇新的開始日期：",
			DatePicker: &bus.DatePrompt{Label: "選擇開始日期", FieldKey: FieldEditStartDate},
		})
	case labelEndDate:
		sess.Step = StepEditEnd
		c.sessions.Touch(sess)
		c.reply(ev, bus.OutboundMessage{
			Text:       "請選擇新的結束日期：",
			DatePicker: &bus.DatePrompt{Label: "選擇結束日期", FieldKey: FieldEditEndDate},
		})
	case labelTimes:
		sess.Step = StepEditTimes
		c.sessions.Touch(sess)
		c.reply(ev, bus.OutboundMessage{Text: "請輸入新的提醒時間（24小時制，用逗號分隔）："})
	case kwDone:
		c.sessions.Clear(ev.UserID)
		c.reply(ev, bus.OutboundMessage{Text: msgEditDone})
	default:
		// Unrecognized selection: re-show the same menu, no state change.
		c.reply(ev, bus.OutboundMessage{Text: msgChooseField, Menu: editFieldMenu()})
	}
}

func (c *Controller) applyEditDate(ctx context.Context, ev bus.InboundEvent, sess *Session, fieldKey, date string) {
	rem, err := c.store.GetReminder(ctx, sess.ReminderID)
	if err != nil {
		logger.ErrorCF("dialog", "Load edit target failed", map[string]interface{}{
			"reminder_id": sess.ReminderID,
			"error":       err.Error(),
		})
		c.reply(ev, bus.OutboundMessage{Text: msgTryLater})
		return
	}

	var confirm string
	switch fieldKey {
	case FieldEditStartDate:
		if date > rem.EndDate {
			c.backToFieldMenu(ev, sess, msgBadWindow)
			return
		}
		err = c.store.UpdateStartDate(ctx, sess.ReminderID, date)
		confirm = fmt.Sprintf(msgStartUpdated, date)
	case FieldEditEndDate:
		if date < rem.StartDate {
			c.backToFieldMenu(ev, sess, msgBadWindow)
			return
		}
		err = c.store.UpdateEndDate(ctx, sess.ReminderID, date)
		confirm = fmt.Sprintf(msgEndUpdated, date)
	default:
		return
	}
	if err != nil {
		logger.ErrorCF("dialog", "Update reminder date failed", map[string]interface{}{
			"reminder_id": sess.ReminderID,
			"error":       err.Error(),
		})
		c.reply(ev, bus.OutboundMessage{Text: msgTryLater})
		return
	}

	sess.Step = StepEditField
	c.sessions.Touch(sess)
	c.reply(ev, bus.OutboundMessage{Text: confirm})
	c.push(ev, bus.OutboundMessage{Text: msgContinueField, Menu: editFieldMenu()})
}

func (c *Controller) completeEditTimes(ctx context.Context, ev bus.InboundEvent, sess *Session, text string) {
	times, err := ParseTimes(text)
	if err != nil {
		c.reply(ev, bus.OutboundMessage{Text: msgBadTimes})
		return
	}

	if err := c.store.UpdateTimes(ctx, sess.ReminderID, times); err != nil {
		logger.ErrorCF("dialog", "Update times failed", map[string]interface{}{
			"reminder_id": sess.ReminderID,
			"error":       err.Error(),
		})
		c.reply(ev, bus.OutboundMessage{Text: msgTryLater})
		return
	}

	sess.Step = StepEditField
	c.sessions.Touch(sess)
	c.reply(ev, bus.OutboundMessage{
		Text: msgTimesUpdated + "\n" + msgContinueField,
		Menu: editFieldMenu(),
	})
}

func (c *Controller) backToFieldMenu(ev bus.InboundEvent, sess *Session, notice string) {
	sess.Step = StepEditField
	c.sessions.Touch(sess)
	c.reply(ev, bus.OutboundMessage{Text: notice})
	c.push(ev, bus.OutboundMessage{Text: msgContinueField, Menu: editFieldMenu()})
}

func editFieldMenu() []bus.MenuItem {
	return []bus.MenuItem{
		{Label: labelStartDate, Text: labelStartDate},
		{Label: labelEndDate, Text: labelEndDate},
		{Label: labelTimes, Text: labelTimes},
		{Label: kwDone, Text: kwDone},
	}
}

// reply answers on the event's reply path when the channel has one.
func (c *Controller) reply(ev bus.InboundEvent, msg bus.OutboundMessage) {
	msg.Channel = ev.Channel
	msg.UserID = ev.UserID
	msg.ChatID = ev.ChatID
	msg.ReplyToken = ev.ReplyToken
	c.bus.PublishOutbound(msg)
}

// push sends a follow-up without consuming the reply token; LINE allows
// one reply per token, so second messages in a turn go out as pushes.
func (c *Controller) push(ev bus.InboundEvent, msg bus.OutboundMessage) {
	msg.Channel = ev.Channel
	msg.UserID = ev.UserID
	msg.ChatID = ev.ChatID
	c.bus.PublishOutbound(msg)
}
