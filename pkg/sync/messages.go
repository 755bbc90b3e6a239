package sync

import (
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/carebridgehq/inbox-sync/pkg/schemas/inbox/v1"
)

// optimisticWindow bounds how far a server echo's timestamp may drift from
// an optimistic message and still be treated as its confirmation.
const optimisticWindow = 30 * time.Second

// MessageStore owns per-conversation message sequences. History loads and
// live events are merged by confirmed identifier; optimistic sends carry a
// temporary id that is replaced, never duplicated, once the server echo is
// correlated.
type MessageStore struct {
	mu   gosync.Mutex
	seqs map[int64][]v1.Message
	seen map[int64]map[int64]struct{}
	now  func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		seqs: make(map[int64][]v1.Message),
		seen: make(map[int64]map[int64]struct{}),
		now:  time.Now,
	}
}

// LoadSnapshot replaces a conversation's sequence with fetched history and
// seeds the seen set from every confirmed identifier, so live events that
// duplicate already-loaded messages become discardable no-ops.
func (s *MessageStore) LoadSnapshot(conversationID int64, msgs []v1.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := make([]v1.Message, len(msgs))
	copy(seq, msgs)
	seen := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if m.Confirmed() {
			seen[m.ID] = struct{}{}
		}
	}
	s.seqs[conversationID] = seq
	s.seen[conversationID] = seen
}

// AppendLive merges one streamed message. Duplicates of a confirmed id are
// dropped. A message matching a pending optimistic entry (same role, same
// content, timestamp within the optimistic window) confirms it in place
// instead of appending a second bubble. Otherwise the message is appended
// in arrival order; the chat stream is in server order per conversation,
// so no re-sort happens here.
func (s *MessageStore) AppendLive(conversationID int64, m v1.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Confirmed() {
		seen := s.seenSet(conversationID)
		if _, dup := seen[m.ID]; dup {
			return false
		}
		seen[m.ID] = struct{}{}

		if idx := s.findOptimistic(conversationID, m); idx >= 0 {
			s.seqs[conversationID][idx] = m
			return true
		}
	}
	s.seqs[conversationID] = append(s.seqs[conversationID], m)
	return true
}

// AppendOptimistic adds a not-yet-confirmed message with a generated
// temporary id. The id never enters the seen set, so the eventual server
// echo is matched by content, not identifier.
func (s *MessageStore) AppendOptimistic(conversationID int64, content string, role v1.SenderRole) v1.Message {
	m := v1.Message{
		TempID:         uuid.NewString(),
		ConversationID: conversationID,
		Sender:         role,
		Content:        content,
		Timestamp:      s.now(),
	}
	s.mu.Lock()
	s.seqs[conversationID] = append(s.seqs[conversationID], m)
	s.mu.Unlock()
	return m
}

// AppendSystem adds a synthetic system-role notice (agent joined, left,
// assignment changed) to a conversation.
func (s *MessageStore) AppendSystem(conversationID int64, text string, ts time.Time) v1.Message {
	if ts.IsZero() {
		ts = s.now()
	}
	m := v1.Message{
		TempID:         "sys-" + uuid.NewString(),
		ConversationID: conversationID,
		Sender:         v1.RoleSystem,
		Content:        text,
		Timestamp:      ts,
	}
	s.mu.Lock()
	s.seqs[conversationID] = append(s.seqs[conversationID], m)
	s.mu.Unlock()
	return m
}

// Messages returns a copy of a conversation's current sequence.
func (s *MessageStore) Messages(conversationID int64) []v1.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seqs[conversationID]
	out := make([]v1.Message, len(seq))
	copy(out, seq)
	return out
}

// Drop forgets a conversation's sequence and seen set.
func (s *MessageStore) Drop(conversationID int64) {
	s.mu.Lock()
	delete(s.seqs, conversationID)
	delete(s.seen, conversationID)
	s.mu.Unlock()
}

func (s *MessageStore) seenSet(conversationID int64) map[int64]struct{} {
	seen, ok := s.seen[conversationID]
	if !ok {
		seen = make(map[int64]struct{})
		s.seen[conversationID] = seen
	}
	return seen
}

// findOptimistic locates the oldest pending optimistic entry the confirmed
// message plausibly echoes.
func (s *MessageStore) findOptimistic(conversationID int64, confirmed v1.Message) int {
	for i, m := range s.seqs[conversationID] {
		if m.TempID == "" || m.Confirmed() || m.Sender == v1.RoleSystem {
			continue
		}
		if m.Sender != confirmed.Sender || m.Content != confirmed.Content {
			continue
		}
		drift := confirmed.Timestamp.Sub(m.Timestamp)
		if drift < 0 {
			drift = -drift
		}
		if confirmed.Timestamp.IsZero() || drift <= optimisticWindow {
			return i
		}
	}
	return -1
}


// PresenceNotice renders the canonical system text for an agent presence
// change.
func PresenceNotice(agentID int64, joined bool) string {
	if joined {
		return fmt.Sprintf("Agent %d joined", agentID)
	}
	return fmt.Sprintf("Agent %d left", agentID)
}

// AssignmentNotice renders the canonical system text for a conversation
// assignment change.
func AssignmentNotice(agent *v1.AgentRef, assigned bool) string {
	if !assigned || agent == nil {
		return "Conversation unassigned"
	}
	return "Conversation assigned to " + agent.Label()
}
