// Package sync is the reconciliation core: it merges snapshot fetches and
// live stream events into one consistent agent view of the inbox and the
// open conversation. All merges are id-keyed and timestamp- or
// identifier-gated, so they are safe to apply in any delivery order.
package sync

import (
	"sort"
	gosync "sync"
	"time"

	v1 "github.com/carebridgehq/inbox-sync/pkg/schemas/inbox/v1"
)

const (
	// transient highlight lifetimes, matching the inbox flash behavior
	flashUpdateTTL  = 1 * time.Second
	flashCreatedTTL = 1500 * time.Millisecond
)

// Reconciler owns the canonical ordered conversation-summary list: at most
// one entry per conversation id, sorted by last-message time descending,
// entries without a timestamp last, ties keeping their prior order.
type Reconciler struct {
	mu   gosync.Mutex
	list []v1.ConversationSummary

	flash map[int64]time.Time
	now   func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		flash: make(map[int64]time.Time),
		now:   time.Now,
	}
}

// ApplySnapshot replaces the working set with a fresh authoritative fetch.
// Duplicate ids keep their first occurrence. Idempotent.
func (r *Reconciler) ApplySnapshot(list []v1.ConversationSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int64]struct{}, len(list))
	next := make([]v1.ConversationSummary, 0, len(list))
	for _, s := range list {
		if _, dup := seen[s.ConversationID]; dup {
			continue
		}
		seen[s.ConversationID] = struct{}{}
		next = append(next, s)
	}
	r.list = next
	r.resort()
}

// ApplyUpdate merges one inbox_updated event. It reports false when the
// conversation is unknown: the caller treats that as a resync signal and
// fetches a full snapshot instead; an entry is never fabricated from a
// partial event. A known entry is only touched when the incoming timestamp
// is not older than what we hold (ties favor the incoming event).
func (r *Reconciler) ApplyUpdate(id int64, lastMessage *string, ts *time.Time, unread *int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.find(id)
	if idx < 0 {
		return false
	}

	existing := &r.list[idx]
	if older(ts, existing.LastMessageAt) {
		return false
	}
	if lastMessage != nil {
		existing.LastMessage = *lastMessage
	}
	if ts != nil {
		t := *ts
		existing.LastMessageAt = &t
	}
	if unread != nil && *unread >= 0 {
		existing.UnreadCount = *unread
	}
	r.resort()
	r.flash[id] = r.now().Add(flashUpdateTTL)
	return true
}

// ApplyAssignment replaces the assignment of a known conversation. Unlike
// content updates there is no timestamp gate: the backend orders
// assignment events per conversation, so the latest delivery wins.
func (r *Reconciler) ApplyAssignment(id int64, agent *v1.AgentRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.find(id)
	if idx < 0 {
		return false
	}
	if agent != nil {
		ref := *agent
		r.list[idx].AssignedAgent = &ref
	} else {
		r.list[idx].AssignedAgent = nil
	}
	return true
}

// Snapshot returns a copy of the canonical ordered list.
func (r *Reconciler) Snapshot() []v1.ConversationSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]v1.ConversationSummary, len(r.list))
	copy(out, r.list)
	return out
}

// Get looks up one summary by conversation id.
func (r *Reconciler) Get(id int64) (v1.ConversationSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.find(id); idx >= 0 {
		return r.list[idx], true
	}
	return v1.ConversationSummary{}, false
}

// Len reports the number of conversations in view.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

// MarkFlash starts a transient highlight for a conversation, used by the
// view layer to flash new or freshly updated rows. Presentation state only;
// it never feeds back into the merge rules.
func (r *Reconciler) MarkFlash(id int64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = flashCreatedTTL
	}
	r.mu.Lock()
	r.flash[id] = r.now().Add(ttl)
	r.mu.Unlock()
}

// Flashing returns the ids whose highlight has not expired yet.
func (r *Reconciler) Flashing() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []int64
	for id, expiry := range r.flash {
		if now.Before(expiry) {
			out = append(out, id)
		} else {
			delete(r.flash, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Reconciler) find(id int64) int {
	for i := range r.list {
		if r.list[i].ConversationID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) resort() {
	sort.SliceStable(r.list, func(i, j int) bool {
		ti, tj := r.list[i].LastMessageAt, r.list[j].LastMessageAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
}

// older reports whether incoming is strictly older than existing, with a
// missing timestamp counting as the epoch.
func older(incoming, existing *time.Time) bool {
	var in, ex time.Time
	if incoming != nil {
		in = *incoming
	}
	if existing != nil {
		ex = *existing
	}
	return in.Before(ex)
}
