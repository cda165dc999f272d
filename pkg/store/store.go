package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the requested reminder or drug row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidReminder means a reminder violates a schema invariant
	// (empty times list or end date before start date).
	ErrInvalidReminder = errors.New("store: invalid reminder")
)

// Reminder is one persisted recurring daily medication alert.
// StartDate/EndDate are inclusive ISO calendar dates; Times are distinct
// 24-hour HH:MM strings in user-entered order. Sent is a legacy column
// kept for compatibility with existing databases; dispatch relies on the
// delivery ledger instead.
type Reminder struct {
	ID        int64    `json:"id"`
	UserID    string   `json:"user_id"`
	Medicine  string   `json:"medicine"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Times     []string `json:"times"`
	Sent      bool     `json:"sent"`
}

// ActiveOn reports whether the reminder's inclusive date window contains
// the given ISO date. Lexicographic comparison is correct for YYYY-MM-DD.
func (r Reminder) ActiveOn(date string) bool {
	return r.StartDate <= date && date <= r.EndDate
}

// LedgerEntry is the idempotency witness for one dispatched slot.
type LedgerEntry struct {
	ID         int64  `json:"id"`
	ReminderID int64  `json:"reminder_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// Drug is one row of the drug reference table.
type Drug struct {
	NameZH     string `json:"name_zh"`
	NameEN     string `json:"name_en"`
	Indication string `json:"indication"`
}

// Store is the durable persistence surface shared by the dialog
// controller and the dispatcher.
type Store interface {
	Close() error

	CreateReminder(ctx context.Context, userID, medicine, startDate, endDate string, times []string) (int64, error)
	GetReminder(ctx context.Context, id int64) (Reminder, error)
	ListReminders(ctx context.Context) ([]Reminder, error)
	ListRemindersByUser(ctx context.Context, userID string) ([]Reminder, error)
	ListDistinctMedicines(ctx context.Context, userID string) ([]string, error)
	GetLatestByMedicine(ctx context.Context, userID, medicine string) (Reminder, error)
	UpdateStartDate(ctx context.Context, id int64, startDate string) error
	UpdateEndDate(ctx context.Context, id int64, endDate string) error
	UpdateTimes(ctx context.Context, id int64, times []string) error

	// ClaimSlot atomically records (reminderID, date, time) in the
	// delivery ledger. It returns true exactly once per slot; a second
	// claim for the same slot returns false with no error.
	ClaimSlot(ctx context.Context, reminderID int64, date, timeOfDay string) (bool, error)
	// ReleaseSlot removes a claim so a failed send can be retried on a
	// later tick within the same minute.
	ReleaseSlot(ctx context.Context, reminderID int64, date, timeOfDay string) error
	WasDelivered(ctx context.Context, reminderID int64, date, timeOfDay string) (bool, error)
	PruneLedgerBefore(ctx context.Context, date string) (int64, error)

	FindDrug(ctx context.Context, name string) (Drug, error)
	FindDrugLike(ctx context.Context, name string) (Drug, error)
}
