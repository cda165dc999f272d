package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yclin-dev/medremind/pkg/store"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string // "userID|text"
	fail  bool
	calls int
}

func (f *fakeNotifier) Notify(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("push failed")
	}
	f.sent = append(f.sent, userID+"|"+text)
	return nil
}

func (f *fakeNotifier) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestDispatcher(t *testing.T, notifier Notifier, at time.Time) (*Dispatcher, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	d := NewDispatcher(st, notifier, 20*time.Second, time.UTC)
	d.now = func() time.Time { return at }
	return d, st
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestDispatcher_AtMostOncePerSlot(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	d, st := newTestDispatcher(t, notifier, at(t, "2025-01-01 08:00"))

	id, err := st.CreateReminder(ctx, "U1", "Paracetamol", "2025-01-01", "2025-01-03", []string{"08:00", "20:00"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	sent := notifier.delivered()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(sent))
	}
	if !strings.HasPrefix(sent[0], "U1|") || !strings.Contains(sent[0], "Paracetamol") {
		t.Fatalf("unexpected notification: %q", sent[0])
	}

	delivered, err := st.WasDelivered(ctx, id, "2025-01-01", "08:00")
	if err != nil {
		t.Fatalf("was delivered: %v", err)
	}
	if !delivered {
		t.Fatal("ledger entry missing")
	}

	// Second tick in the same minute: nothing new.
	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(notifier.delivered()) != 1 {
		t.Fatalf("second tick must not re-notify, got %d", len(notifier.delivered()))
	}

	// The 20:00 slot was not touched.
	delivered, err = st.WasDelivered(ctx, id, "2025-01-01", "20:00")
	if err != nil {
		t.Fatalf("was delivered 20:00: %v", err)
	}
	if delivered {
		t.Fatal("20:00 slot should not have fired at 08:00")
	}
}

func TestDispatcher_WindowBoundaries(t *testing.T) {
	ctx := context.Background()

	// start == end == today fires.
	notifier := &fakeNotifier{}
	d, st := newTestDispatcher(t, notifier, at(t, "2025-06-15 09:30"))
	if _, err := st.CreateReminder(ctx, "U1", "Aspirin", "2025-06-15", "2025-06-15", []string{"09:30"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(notifier.delivered()) != 1 {
		t.Fatalf("single-day window should fire on its day, got %d", len(notifier.delivered()))
	}

	// The day after end_date does not fire.
	notifier2 := &fakeNotifier{}
	d2, st2 := newTestDispatcher(t, notifier2, at(t, "2025-01-04 08:00"))
	if _, err := st2.CreateReminder(ctx, "U1", "Paracetamol", "2025-01-01", "2025-01-03", []string{"08:00", "20:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d2.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(notifier2.delivered()) != 0 {
		t.Fatalf("elapsed window must not fire, got %d", len(notifier2.delivered()))
	}
}

func TestDispatcher_OffMinuteDoesNotFire(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	d, st := newTestDispatcher(t, notifier, at(t, "2025-01-01 08:01"))

	if _, err := st.CreateReminder(ctx, "U1", "Aspirin", "2025-01-01", "2025-01-03", []string{"08:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if notifier.calls != 0 {
		t.Fatalf("08:00 slot must not fire at 08:01, got %d calls", notifier.calls)
	}
}

func TestDispatcher_FailedDeliveryRetries(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{fail: true}
	d, st := newTestDispatcher(t, notifier, at(t, "2025-01-01 08:00"))

	id, err := st.CreateReminder(ctx, "U1", "Aspirin", "2025-01-01", "2025-01-03", []string{"08:00"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(notifier.delivered()) != 0 {
		t.Fatal("failed delivery must not count as sent")
	}

	// No ledger entry survives a failed send.
	delivered, err := st.WasDelivered(ctx, id, "2025-01-01", "08:00")
	if err != nil {
		t.Fatalf("was delivered: %v", err)
	}
	if delivered {
		t.Fatal("failed delivery must not leave a ledger entry")
	}

	// A later tick in the same minute retries and succeeds.
	notifier.fail = false
	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	if len(notifier.delivered()) != 1 {
		t.Fatalf("expected retry to deliver, got %d", len(notifier.delivered()))
	}
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	ctx := context.Background()

	// First user's delivery fails, second user's still goes out.
	notifier := &selectiveNotifier{failFor: "U1"}
	d, st := newTestDispatcher(t, nil, at(t, "2025-01-01 08:00"))
	d.notifier = notifier

	if _, err := st.CreateReminder(ctx, "U1", "Aspirin", "2025-01-01", "2025-01-03", []string{"08:00"}); err != nil {
		t.Fatalf("create U1: %v", err)
	}
	if _, err := st.CreateReminder(ctx, "U2", "Paracetamol", "2025-01-01", "2025-01-03", []string{"08:00"}); err != nil {
		t.Fatalf("create U2: %v", err)
	}

	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(notifier.sent) != 1 || !strings.HasPrefix(notifier.sent[0], "U2|") {
		t.Fatalf("U2 should be notified despite U1's failure: %#v", notifier.sent)
	}
}

type selectiveNotifier struct {
	failFor string
	sent    []string
}

func (s *selectiveNotifier) Notify(ctx context.Context, userID, text string) error {
	if userID == s.failFor {
		return errors.New("unreachable user")
	}
	s.sent = append(s.sent, userID+"|"+text)
	return nil
}

func TestDispatcher_ParacetamolScenario(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	d, st := newTestDispatcher(t, notifier, at(t, "2025-01-01 08:00"))

	if _, err := st.CreateReminder(ctx, "U1", "Paracetamol", "2025-01-01", "2025-01-03", []string{"08:00", "20:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("tick on day 1: %v", err)
	}
	sent := notifier.delivered()
	if len(sent) != 1 || !strings.Contains(sent[0], "Paracetamol") {
		t.Fatalf("expected one Paracetamol notification, got %#v", sent)
	}

	// 2025-01-04 08:00: window elapsed.
	d.now = func() time.Time { return at(t, "2025-01-04 08:00") }
	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("tick on day 4: %v", err)
	}
	if len(notifier.delivered()) != 1 {
		t.Fatalf("no notification expected after the window, got %d", len(notifier.delivered()))
	}
}
