package inbox

import (
	"strconv"
	"time"
)

// SenderRole decides which side of a conversation a message renders on.
type SenderRole string

const (
	RolePatient SenderRole = "patient"
	RoleAgent   SenderRole = "agent"
	RoleBot     SenderRole = "bot"
	RoleSystem  SenderRole = "system"
)

// ClassifySender maps a backend sender tag onto a SenderRole.
// "admin" collapses into agent; anything unrecognized is the patient side.
func ClassifySender(raw string) SenderRole {
	switch raw {
	case "bot":
		return RoleBot
	case "agent", "admin":
		return RoleAgent
	default:
		return RolePatient
	}
}

type AgentRef struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Label is what the UI shows for an assignment: name if known, else the id.
func (a AgentRef) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return "agent " + strconv.FormatInt(a.ID, 10)
}

type DepartmentRef struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ConversationSummary is one row of the agent inbox.
// At most one summary exists per ConversationID in a canonical list.
type ConversationSummary struct {
	ConversationID int64          `json:"conversation_id"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone,omitempty"`
	LastMessage    string         `json:"last_message"`
	LastMessageAt  *time.Time     `json:"last_message_at,omitempty"`
	UnreadCount    int            `json:"unread_count"`
	AssignedAgent  *AgentRef      `json:"assigned_agent,omitempty"`
	Department     *DepartmentRef `json:"department,omitempty"`
}

type Attachment struct {
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// Message is one entry in a conversation sequence. ID is the
// server-confirmed identifier; TempID carries a client-generated id for
// optimistic entries until the server echo arrives. Exactly one of the two
// is set.
type Message struct {
	ID             int64        `json:"id,omitempty"`
	TempID         string       `json:"temp_id,omitempty"`
	ConversationID int64        `json:"conversation_id"`
	Sender         SenderRole   `json:"sender"`
	Content        string       `json:"content"`
	Timestamp      time.Time    `json:"timestamp"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Confirmed reports whether the message carries a server identifier.
func (m Message) Confirmed() bool { return m.ID != 0 }
