package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the reminder database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// The controller and dispatcher share this store from separate
	// goroutines. One connection serializes writers and avoids SQLite
	// lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			medicine TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			times TEXT NOT NULL,
			sent INTEGER DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS reminders_user_idx ON reminders(user_id, medicine, id DESC);`,
		`CREATE TABLE IF NOT EXISTS reminders_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reminder_id INTEGER,
			date TEXT,
			time TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS reminders_log_slot_idx ON reminders_log(reminder_id, date, time);`,
		`CREATE TABLE IF NOT EXISTS drugs (
			zh_name TEXT,
			en_name TEXT,
			indication TEXT
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func encodeTimes(times []string) (string, error) {
	b, err := json.Marshal(times)
	if err != nil {
		return "", fmt.Errorf("encode times: %w", err)
	}
	return string(b), nil
}

func decodeTimes(raw string) []string {
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func (s *SQLiteStore) CreateReminder(ctx context.Context, userID, medicine, startDate, endDate string, times []string) (int64, error) {
	if len(times) == 0 {
		return 0, fmt.Errorf("%w: empty times", ErrInvalidReminder)
	}
	if endDate < startDate {
		return 0, fmt.Errorf("%w: end date %s before start date %s", ErrInvalidReminder, endDate, startDate)
	}

	enc, err := encodeTimes(times)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO reminders (user_id, medicine, start_date, end_date, times, sent)
VALUES (?, ?, ?, ?, ?, 0)`,
		userID, medicine, startDate, endDate, enc)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reminder id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetReminder(ctx context.Context, id int64) (Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, medicine, start_date, end_date, times, sent
FROM reminders WHERE id = ?`, id)

	var r Reminder
	var timesRaw string
	var sent int
	if err := row.Scan(&r.ID, &r.UserID, &r.Medicine, &r.StartDate, &r.EndDate, &timesRaw, &sent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reminder{}, ErrNotFound
		}
		return Reminder{}, fmt.Errorf("get reminder: %w", err)
	}
	r.Times = decodeTimes(timesRaw)
	r.Sent = sent != 0
	return r, nil
}

func (s *SQLiteStore) ListReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, medicine, start_date, end_date, times, sent
FROM reminders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *SQLiteStore) ListRemindersByUser(ctx context.Context, userID string) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, medicine, start_date, end_date, times, sent
FROM reminders WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders for user: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		var r Reminder
		var timesRaw string
		var sent int
		if err := rows.Scan(&r.ID, &r.UserID, &r.Medicine, &r.StartDate, &r.EndDate, &timesRaw, &sent); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.Times = decodeTimes(timesRaw)
		r.Sent = sent != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return out, nil
}

// ListDistinctMedicines returns each medicine the user has a reminder
// for, ordered by first creation.
func (s *SQLiteStore) ListDistinctMedicines(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT medicine FROM reminders WHERE user_id = ? GROUP BY medicine ORDER BY MIN(id)`, userID)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate medicines: %w", err)
	}
	return out, nil
}

// GetLatestByMedicine resolves a medicine name to the most recently
// created reminder: highest id wins when duplicates exist.
func (s *SQLiteStore) GetLatestByMedicine(ctx context.Context, userID, medicine string) (Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, medicine, start_date, end_date, times, sent
FROM reminders WHERE user_id = ? AND medicine = ? ORDER BY id DESC LIMIT 1`,
		userID, medicine)

	var r Reminder
	var timesRaw string
	var sent int
	if err := row.Scan(&r.ID, &r.UserID, &r.Medicine, &r.StartDate, &r.EndDate, &timesRaw, &sent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reminder{}, ErrNotFound
		}
		return Reminder{}, fmt.Errorf("get reminder by medicine: %w", err)
	}
	r.Times = decodeTimes(timesRaw)
	r.Sent = sent != 0
	return r, nil
}

func (s *SQLiteStore) UpdateStartDate(ctx context.Context, id int64, startDate string) error {
	return s.updateField(ctx, id, "start_date", startDate)
}

func (s *SQLiteStore) UpdateEndDate(ctx context.Context, id int64, endDate string) error {
	return s.updateField(ctx, id, "end_date", endDate)
}

func (s *SQLiteStore) UpdateTimes(ctx context.Context, id int64, times []string) error {
	if len(times) == 0 {
		return fmt.Errorf("%w: empty times", ErrInvalidReminder)
	}
	enc, err := encodeTimes(times)
	if err != nil {
		return err
	}
	return s.updateField(ctx, id, "times", enc)
}

func (s *SQLiteStore) updateField(ctx context.Context, id int64, column, value string) error {
	// column is always one of the fixed names above, never user input.
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE reminders SET %s = ? WHERE id = ?`, column), value, id)
	if err != nil {
		return fmt.Errorf("update reminder %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStore) ClaimSlot(ctx context.Context, reminderID int64, date, timeOfDay string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO reminders_log (reminder_id, date, time) VALUES (?, ?, ?)`,
		reminderID, date, timeOfDay)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim slot rows: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ReleaseSlot(ctx context.Context, reminderID int64, date, timeOfDay string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM reminders_log WHERE reminder_id = ? AND date = ? AND time = ?`,
		reminderID, date, timeOfDay)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WasDelivered(ctx context.Context, reminderID int64, date, timeOfDay string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM reminders_log WHERE reminder_id = ? AND date = ? AND time = ?`,
		reminderID, date, timeOfDay)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return n > 0, nil
}

// PruneLedgerBefore deletes ledger rows older than the given ISO date.
// Retention is an operator decision; nothing calls this automatically.
func (s *SQLiteStore) PruneLedgerBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders_log WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune ledger rows: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) FindDrug(ctx context.Context, name string) (Drug, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	row := s.db.QueryRowContext(ctx, `
SELECT DISTINCT zh_name, en_name, indication FROM drugs
WHERE LOWER(zh_name) = ? OR LOWER(en_name) = ? LIMIT 1`, name, name)
	return scanDrug(row)
}

func (s *SQLiteStore) FindDrugLike(ctx context.Context, name string) (Drug, error) {
	like := "%" + strings.TrimSpace(name) + "%"
	row := s.db.QueryRowContext(ctx, `
SELECT DISTINCT zh_name, en_name, indication FROM drugs
WHERE zh_name LIKE ? OR en_name LIKE ? LIMIT 1`, like, like)
	return scanDrug(row)
}

func scanDrug(row *sql.Row) (Drug, error) {
	var d Drug
	if err := row.Scan(&d.NameZH, &d.NameEN, &d.Indication); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Drug{}, ErrNotFound
		}
		return Drug{}, fmt.Errorf("scan drug: %w", err)
	}
	return d, nil
}

// InsertDrug adds a reference row, used by tests and import tooling.
func (s *SQLiteStore) InsertDrug(ctx context.Context, d Drug) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO drugs (zh_name, en_name, indication) VALUES (?, ?, ?)`,
		d.NameZH, d.NameEN, d.Indication)
	if err != nil {
		return fmt.Errorf("insert drug: %w", err)
	}
	return nil
}
