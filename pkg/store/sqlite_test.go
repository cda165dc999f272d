package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "medremind.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CreateAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateReminder(ctx, "U1", "Paracetamol", "2025-01-01", "2025-01-03", []string{"08:00", "20:00"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	reminders, err := s.ListReminders(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(reminders))
	}
	got := reminders[0]
	if got.Medicine != "Paracetamol" || got.StartDate != "2025-01-01" || got.EndDate != "2025-01-03" {
		t.Fatalf("unexpected reminder: %#v", got)
	}
	if !reflect.DeepEqual(got.Times, []string{"08:00", "20:00"}) {
		t.Fatalf("times order not preserved: %v", got.Times)
	}
	if got.Sent {
		t.Fatal("new reminder should not be marked sent")
	}
}

func TestSQLiteStore_CreateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.CreateReminder(ctx, "U1", "A", "2025-01-01", "2025-01-02", nil); !errors.Is(err, ErrInvalidReminder) {
		t.Fatalf("expected ErrInvalidReminder for empty times, got %v", err)
	}
	if _, err := s.CreateReminder(ctx, "U1", "A", "2025-01-05", "2025-01-02", []string{"08:00"}); !errors.Is(err, ErrInvalidReminder) {
		t.Fatalf("expected ErrInvalidReminder for inverted window, got %v", err)
	}
}

func TestSQLiteStore_GetLatestByMedicine(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateReminder(ctx, "U1", "Ibuprofen", "2025-01-01", "2025-01-05", []string{"09:00"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	latest, err := s.CreateReminder(ctx, "U1", "Ibuprofen", "2025-02-01", "2025-02-05", []string{"21:00"})
	if err != nil {
		t.Fatalf("create latest: %v", err)
	}
	if latest <= first {
		t.Fatalf("ids not monotonic: %d then %d", first, latest)
	}

	got, err := s.GetLatestByMedicine(ctx, "U1", "Ibuprofen")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if got.ID != latest {
		t.Fatalf("expected highest id %d, got %d", latest, got.ID)
	}

	if _, err := s.GetLatestByMedicine(ctx, "U1", "Aspirin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Other users' reminders must not resolve.
	if _, err := s.GetLatestByMedicine(ctx, "U2", "Ibuprofen"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestSQLiteStore_ListDistinctMedicines(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, m := range []string{"Aspirin", "Ibuprofen", "Aspirin"} {
		if _, err := s.CreateReminder(ctx, "U1", m, "2025-01-01", "2025-01-02", []string{"08:00"}); err != nil {
			t.Fatalf("create %s: %v", m, err)
		}
	}
	if _, err := s.CreateReminder(ctx, "U2", "Vitamin C", "2025-01-01", "2025-01-02", []string{"08:00"}); err != nil {
		t.Fatalf("create for U2: %v", err)
	}

	meds, err := s.ListDistinctMedicines(ctx, "U1")
	if err != nil {
		t.Fatalf("list medicines: %v", err)
	}
	if !reflect.DeepEqual(meds, []string{"Aspirin", "Ibuprofen"}) {
		t.Fatalf("unexpected medicines: %v", meds)
	}
}

func TestSQLiteStore_UpdateFieldIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateReminder(ctx, "U1", "Paracetamol", "2025-01-01", "2025-01-03", []string{"08:00"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.UpdateTimes(ctx, id, []string{"07:30", "19:30"}); err != nil {
			t.Fatalf("update times (pass %d): %v", i+1, err)
		}
		if err := s.UpdateStartDate(ctx, id, "2025-01-02"); err != nil {
			t.Fatalf("update start (pass %d): %v", i+1, err)
		}
		if err := s.UpdateEndDate(ctx, id, "2025-01-09"); err != nil {
			t.Fatalf("update end (pass %d): %v", i+1, err)
		}
	}

	got, err := s.GetLatestByMedicine(ctx, "U1", "Paracetamol")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StartDate != "2025-01-02" || got.EndDate != "2025-01-09" {
		t.Fatalf("unexpected window: %s..%s", got.StartDate, got.EndDate)
	}
	if !reflect.DeepEqual(got.Times, []string{"07:30", "19:30"}) {
		t.Fatalf("unexpected times: %v", got.Times)
	}
}

func TestSQLiteStore_ClaimSlotOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	claimed, err := s.ClaimSlot(ctx, 7, "2025-01-01", "08:00")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	claimed, err = s.ClaimSlot(ctx, 7, "2025-01-01", "08:00")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim for the same slot should be rejected")
	}

	// Distinct time in the same minute family is a separate slot.
	claimed, err = s.ClaimSlot(ctx, 7, "2025-01-01", "20:00")
	if err != nil {
		t.Fatalf("claim other slot: %v", err)
	}
	if !claimed {
		t.Fatal("different time should be claimable")
	}

	delivered, err := s.WasDelivered(ctx, 7, "2025-01-01", "08:00")
	if err != nil {
		t.Fatalf("was delivered: %v", err)
	}
	if !delivered {
		t.Fatal("ledger entry missing after claim")
	}
}

func TestSQLiteStore_ReleaseSlotAllowsRetry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.ClaimSlot(ctx, 3, "2025-01-01", "12:00"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ReleaseSlot(ctx, 3, "2025-01-01", "12:00"); err != nil {
		t.Fatalf("release: %v", err)
	}

	claimed, err := s.ClaimSlot(ctx, 3, "2025-01-01", "12:00")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !claimed {
		t.Fatal("released slot should be claimable again")
	}
}

func TestSQLiteStore_PruneLedgerBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, day := range []string{"2024-12-30", "2024-12-31", "2025-01-01"} {
		if _, err := s.ClaimSlot(ctx, 1, day, "08:00"); err != nil {
			t.Fatalf("claim %s: %v", day, err)
		}
	}

	n, err := s.PruneLedgerBefore(ctx, "2025-01-01")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", n)
	}

	delivered, err := s.WasDelivered(ctx, 1, "2025-01-01", "08:00")
	if err != nil {
		t.Fatalf("was delivered: %v", err)
	}
	if !delivered {
		t.Fatal("entry on the cutoff date must survive")
	}
}

func TestSQLiteStore_DrugLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d := Drug{NameZH: "普拿疼", NameEN: "Panadol", Indication: "解熱鎮痛"}
	if err := s.InsertDrug(ctx, d); err != nil {
		t.Fatalf("insert drug: %v", err)
	}

	got, err := s.FindDrug(ctx, "panadol")
	if err != nil {
		t.Fatalf("find exact: %v", err)
	}
	if got.NameZH != d.NameZH {
		t.Fatalf("unexpected drug: %#v", got)
	}

	got, err = s.FindDrugLike(ctx, "拿疼")
	if err != nil {
		t.Fatalf("find like: %v", err)
	}
	if got.NameEN != "Panadol" {
		t.Fatalf("unexpected drug: %#v", got)
	}

	if _, err := s.FindDrug(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
