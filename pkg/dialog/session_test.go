package dialog

import "testing"

func TestSessionStore_Lifecycle(t *testing.T) {
	ss := NewSessionStore()

	if _, ok := ss.Get("U1"); ok {
		t.Fatal("empty store should have no session")
	}

	sess := ss.Begin("U1", StepAskMedicine)
	if sess.Step != StepAskMedicine || sess.UserID != "U1" {
		t.Fatalf("unexpected session: %#v", sess)
	}

	got, ok := ss.Get("U1")
	if !ok || got != sess {
		t.Fatal("Get should return the same session instance")
	}

	// Beginning again resets accumulated fields.
	sess.Medicine = "Aspirin"
	fresh := ss.Begin("U1", StepEditMedicine)
	if fresh.Medicine != "" || fresh.Step != StepEditMedicine {
		t.Fatalf("Begin should reset the session: %#v", fresh)
	}

	ss.Clear("U1")
	if _, ok := ss.Get("U1"); ok {
		t.Fatal("session should be gone after Clear")
	}
	if ss.Len() != 0 {
		t.Fatalf("expected empty store, got %d", ss.Len())
	}
}
