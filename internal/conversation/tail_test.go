package conversation

import "testing"

func TestCapAndAlternation(t *testing.T) {
	tail := New(4) // cap = 8

	for i := 0; i < 10; i++ {
		tail.AppendAssistant("assistant-msg")
		tail.AppendUser("user-msg")
	}

	snap := tail.Snapshot()
	if len(snap) != 8 {
		t.Fatalf("expected tail length 8, got %d", len(snap))
	}
	if snap[0].Role != Assistant {
		t.Fatalf("expected tail to begin with an assistant entry, got %v", snap[0].Role)
	}
	if snap[len(snap)-1].Role != User {
		t.Fatalf("expected tail to end with a user entry, got %v", snap[len(snap)-1].Role)
	}
	for i, m := range snap {
		wantRole := Assistant
		if i%2 == 1 {
			wantRole = User
		}
		if m.Role != wantRole {
			t.Fatalf("entry %d: role = %v, want %v (alternation broken)", i, m.Role, wantRole)
		}
	}
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	tail := New(2)
	tail.AppendAssistant("a1")
	snap := tail.Snapshot()
	snap[0].Text = "mutated"

	snap2 := tail.Snapshot()
	if snap2[0].Text != "a1" {
		t.Fatalf("mutating a snapshot must not affect the tail's internal state")
	}
}

func TestClear(t *testing.T) {
	tail := New(2)
	tail.AppendAssistant("a1")
	tail.AppendUser("u1")
	tail.Clear()
	if got := tail.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty tail after Clear, got %d entries", len(got))
	}
}

func TestDefaultCapacity(t *testing.T) {
	tail := New(0) // defaults to N=4, cap=8
	for i := 0; i < 5; i++ {
		tail.AppendAssistant("a")
		tail.AppendUser("u")
	}
	if got := len(tail.Snapshot()); got != 8 {
		t.Fatalf("expected default cap 8, got %d", got)
	}
}
