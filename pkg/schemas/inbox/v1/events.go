package inbox

import "time"

// EventKind is the closed set of canonical event variants the
// synchronization core understands. Raw payload `type` values map onto
// these; anything else is dropped at the boundary.
type EventKind string

const (
	KindInboxSnapshot          EventKind = "inbox_snapshot"
	KindConversationCreated    EventKind = "conversation_created"
	KindInboxUpdated           EventKind = "inbox_updated"
	KindInboxAssignment        EventKind = "inbox_assignment"
	KindChatMessage            EventKind = "chat_message"
	KindAgentPresence          EventKind = "agent_presence"
	KindConversationAssignment EventKind = "conversation_assignment"
	KindHeartbeat              EventKind = "heartbeat"
)

// Event is one normalized inbound event. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind EventKind

	ConversationID int64

	// KindInboxSnapshot
	Summaries []ConversationSummary

	// KindInboxUpdated
	LastMessage *string
	Timestamp   *time.Time
	UnreadCount *int

	// KindInboxAssignment / KindConversationAssignment
	AssignedAgent *AgentRef
	Assigned      bool

	// KindChatMessage
	Message *Message

	// KindAgentPresence
	AgentID int64
	Joined  bool
}

func (e Event) Validate() error {
	ve := &ValidationError{}

	switch e.Kind {
	case KindInboxSnapshot, KindHeartbeat:
		// no required fields beyond the kind itself
	case KindConversationCreated:
		if e.ConversationID == 0 {
			ve.add("conversation_id", "required")
		}
	case KindInboxUpdated:
		if e.ConversationID == 0 {
			ve.add("conversation_id", "required")
		}
		if e.LastMessage == nil && e.Timestamp == nil && e.UnreadCount == nil {
			ve.add("payload", "no mutable field present")
		}
	case KindInboxAssignment:
		if e.ConversationID == 0 {
			ve.add("conversation_id", "required")
		}
	case KindChatMessage:
		if e.Message == nil {
			ve.add("message", "required")
		} else if e.Message.Content == "" && len(e.Message.Attachments) == 0 {
			ve.add("message.content", "empty")
		}
	case KindAgentPresence:
		if e.AgentID == 0 {
			ve.add("user_id", "required")
		}
	case KindConversationAssignment:
		if e.Assigned && e.AssignedAgent == nil {
			ve.add("agent", "required when assigned")
		}
	default:
		ve.add("kind", "unknown")
	}

	if len(ve.Issues) > 0 {
		return ve
	}
	return nil
}
