package stream

import "sync"

// Health counts the open connections of one logical stream group (the
// inbox sockets form one group, the chat socket another). A group is live
// while at least one member is open, so flapping one socket beside an open
// sibling never reports the group as down.
type Health struct {
	mu   sync.Mutex
	open int
	subs []func(live bool)
}

func NewHealth() *Health { return &Health{} }

// Inc records a socket open.
func (h *Health) Inc() {
	h.mu.Lock()
	h.open++
	notify := h.open == 1
	subs := h.subs
	h.mu.Unlock()
	if notify {
		fire(subs, true)
	}
}

// Dec records a socket close. The count never goes below zero.
func (h *Health) Dec() {
	h.mu.Lock()
	notify := false
	if h.open > 0 {
		h.open--
		notify = h.open == 0
	}
	subs := h.subs
	h.mu.Unlock()
	if notify {
		fire(subs, false)
	}
}

// Live reports whether any socket in the group is open.
func (h *Health) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open > 0
}

// Open returns the current open-connection count.
func (h *Health) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// OnChange subscribes to live/not-live transitions. Callbacks run on the
// goroutine that triggered the transition.
func (h *Health) OnChange(fn func(live bool)) {
	h.mu.Lock()
	h.subs = append(h.subs, fn)
	h.mu.Unlock()
}

func fire(subs []func(bool), live bool) {
	for _, fn := range subs {
		fn(live)
	}
}
