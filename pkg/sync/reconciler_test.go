package sync

import (
	"testing"
	"time"

	v1 "github.com/carebridgehq/inbox-sync/pkg/schemas/inbox/v1"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func summary(id int64, last string, at *time.Time) v1.ConversationSummary {
	return v1.ConversationSummary{ConversationID: id, Name: "conv", LastMessage: last, LastMessageAt: at}
}

func ids(list []v1.ConversationSummary) []int64 {
	out := make([]int64, len(list))
	for i, s := range list {
		out[i] = s.ConversationID
	}
	return out
}

func TestApplySnapshotDeduplicatesAndSorts(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot([]v1.ConversationSummary{
		summary(1, "old", ts("2026-01-01T10:00:00Z")),
		summary(2, "new", ts("2026-01-01T12:00:00Z")),
		summary(1, "dup", ts("2026-01-01T23:00:00Z")),
		summary(3, "none", nil),
	})

	got := ids(r.Snapshot())
	want := []int64{2, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if s, _ := r.Get(1); s.LastMessage != "old" {
		t.Fatalf("duplicate id should keep first occurrence, got %q", s.LastMessage)
	}
}

func TestApplySnapshotIdempotent(t *testing.T) {
	r := NewReconciler()
	list := []v1.ConversationSummary{
		summary(1, "a", ts("2026-01-01T10:00:00Z")),
		summary(2, "b", ts("2026-01-01T11:00:00Z")),
	}
	r.ApplySnapshot(list)
	first := r.Snapshot()
	r.ApplySnapshot(list)
	second := r.Snapshot()

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ConversationID != second[i].ConversationID {
			t.Fatalf("order changed on reapply: %v vs %v", ids(first), ids(second))
		}
	}
}

func TestApplyUpdateUnknownConversation(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot([]v1.ConversationSummary{summary(1, "a", ts("2026-01-01T10:00:00Z"))})

	msg := "hello"
	if r.ApplyUpdate(99, &msg, ts("2026-01-01T11:00:00Z"), nil) {
		t.Fatal("update for unknown conversation must not apply")
	}
	if r.Len() != 1 {
		t.Fatalf("entry fabricated: len = %d", r.Len())
	}
}

func TestApplyUpdateTimestampGate(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot([]v1.ConversationSummary{summary(1, "current", ts("2026-01-01T12:00:00Z"))})

	stale := "stale"
	if r.ApplyUpdate(1, &stale, ts("2026-01-01T11:00:00Z"), nil) {
		t.Fatal("older event must not apply")
	}
	if s, _ := r.Get(1); s.LastMessage != "current" {
		t.Fatalf("stale event mutated entry: %q", s.LastMessage)
	}

	fresh := "fresh"
	unread := 3
	if !r.ApplyUpdate(1, &fresh, ts("2026-01-01T13:00:00Z"), &unread) {
		t.Fatal("newer event must apply")
	}
	s, _ := r.Get(1)
	if s.LastMessage != "fresh" || s.UnreadCount != 3 {
		t.Fatalf("update not merged: %+v", s)
	}

	// equal timestamps favor the incoming event
	tie := "tie"
	if !r.ApplyUpdate(1, &tie, ts("2026-01-01T13:00:00Z"), nil) {
		t.Fatal("equal-timestamp event must apply")
	}
}

func TestApplyUpdateResorts(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot([]v1.ConversationSummary{
		summary(1, "a", ts("2026-01-01T12:00:00Z")),
		summary(2, "b", ts("2026-01-01T11:00:00Z")),
		summary(3, "c", nil),
	})

	msg := "newest"
	r.ApplyUpdate(2, &msg, ts("2026-01-01T13:00:00Z"), nil)

	got := ids(r.Snapshot())
	want := []int64{2, 1, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestApplyUpdatePartialFields(t *testing.T) {
	r := NewReconciler()
	s0 := summary(1, "keep", ts("2026-01-01T10:00:00Z"))
	s0.UnreadCount = 2
	r.ApplySnapshot([]v1.ConversationSummary{s0})

	// unread-only update leaves the preview text alone
	unread := 5
	if !r.ApplyUpdate(1, nil, ts("2026-01-01T11:00:00Z"), &unread) {
		t.Fatal("update must apply")
	}
	s, _ := r.Get(1)
	if s.LastMessage != "keep" || s.UnreadCount != 5 {
		t.Fatalf("partial merge wrong: %+v", s)
	}
}

func TestApplyAssignment(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot([]v1.ConversationSummary{summary(1, "a", nil)})

	agent := &v1.AgentRef{ID: 7, Name: "Dana"}
	if !r.ApplyAssignment(1, agent) {
		t.Fatal("assignment must apply to known conversation")
	}
	if s, _ := r.Get(1); s.AssignedAgent == nil || s.AssignedAgent.ID != 7 {
		t.Fatalf("assignment not stored: %+v", s.AssignedAgent)
	}

	if !r.ApplyAssignment(1, nil) {
		t.Fatal("unassignment must apply")
	}
	if s, _ := r.Get(1); s.AssignedAgent != nil {
		t.Fatal("unassignment not stored")
	}

	if r.ApplyAssignment(42, agent) {
		t.Fatal("assignment for unknown conversation must not apply")
	}
}

func TestFlashExpiry(t *testing.T) {
	r := NewReconciler()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.ApplySnapshot([]v1.ConversationSummary{summary(1, "a", nil)})
	msg := "x"
	r.ApplyUpdate(1, &msg, ts("2026-01-01T13:00:00Z"), nil)
	r.MarkFlash(2, flashCreatedTTL)

	got := r.Flashing()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("flashing = %v, want [1 2]", got)
	}

	// update highlight lives 1s, created highlight 1.5s
	clock = clock.Add(1100 * time.Millisecond)
	if got := r.Flashing(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("after 1.1s flashing = %v, want [2]", got)
	}
	clock = clock.Add(500 * time.Millisecond)
	if got := r.Flashing(); len(got) != 0 {
		t.Fatalf("after 1.6s flashing = %v, want empty", got)
	}
}
