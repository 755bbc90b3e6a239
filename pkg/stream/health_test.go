package stream

import "testing"

func TestHealthCounter(t *testing.T) {
	h := NewHealth()
	if h.Live() {
		t.Fatal("fresh group reports live")
	}

	h.Inc()
	h.Inc()
	h.Dec()
	if !h.Live() {
		t.Fatal("one of two sockets closed, group must stay live")
	}
	h.Dec()
	if h.Live() {
		t.Fatal("all sockets closed, group must be down")
	}
}

func TestHealthDecFloorsAtZero(t *testing.T) {
	h := NewHealth()
	h.Dec()
	h.Dec()
	if h.Open() != 0 {
		t.Fatalf("open = %d, want 0", h.Open())
	}
	h.Inc()
	if !h.Live() {
		t.Fatal("Inc after spurious Dec must report live")
	}
}

func TestHealthTransitionsNotify(t *testing.T) {
	h := NewHealth()
	var log []bool
	h.OnChange(func(live bool) { log = append(log, live) })

	h.Inc() // up
	h.Inc() // no transition
	h.Dec() // no transition
	h.Dec() // down
	h.Inc() // up again

	want := []bool{true, false, true}
	if len(log) != len(want) {
		t.Fatalf("transitions = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", log, want)
		}
	}
}
