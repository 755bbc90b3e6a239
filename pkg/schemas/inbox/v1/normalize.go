package inbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownEvent marks a payload whose `type` is outside the canonical
// set. Callers log and drop it; it is never fatal.
var ErrUnknownEvent = errors.New("unknown event type")

// Backends disagree on field names across versions. Normalization resolves
// each canonical field from a fixed priority list:
//
//	display name:  user_name > name > customer_name > sender > patient_whatsapp_number
//	timestamp:     created_at > timestamp > time > updated_at (messages)
//	               timestamp > updated_at > created_at        (summaries)
//	content:       content > text > message > body
//	message id:    message_id > id
type wireEvent struct {
	Type string `json:"type"`

	ConversationID *int64          `json:"conversation_id"`
	LastMessage    *string         `json:"last_message"`
	UnreadCount    *int            `json:"unread_count"`
	AssignedAgent  json.RawMessage `json:"assigned_agent"`

	MessageID  *int64          `json:"message_id"`
	ID         json.RawMessage `json:"id"`
	Content    *string         `json:"content"`
	Text       *string         `json:"text"`
	Message    *string         `json:"message"`
	Body       *string         `json:"body"`
	SenderType string          `json:"sender_type"`
	Sender     string          `json:"sender"`

	CreatedAt flexTime `json:"created_at"`
	Timestamp flexTime `json:"timestamp"`
	Time      flexTime `json:"time"`
	UpdatedAt flexTime `json:"updated_at"`

	UserID    *int64 `json:"user_id"`
	AgentID   *int64 `json:"agent_id"`
	AgentName string `json:"agent_name"`

	Attachments []Attachment `json:"attachments"`
}

// Normalize converts one raw stream payload into a canonical Event.
// Chat-stream payloads carry no conversation id (the socket path does);
// use NormalizeChat for those so the owner is attached.
func Normalize(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	switch w.Type {
	case "conversation_created":
		return Event{Kind: KindConversationCreated, ConversationID: ival(w.ConversationID)}, nil

	case "inbox_updated":
		return Event{
			Kind:           KindInboxUpdated,
			ConversationID: ival(w.ConversationID),
			LastMessage:    w.LastMessage,
			Timestamp:      firstTime(w.Timestamp, w.CreatedAt, w.Time, w.UpdatedAt),
			UnreadCount:    w.UnreadCount,
		}, nil

	case "inbox_assignment":
		return Event{
			Kind:           KindInboxAssignment,
			ConversationID: ival(w.ConversationID),
			AssignedAgent:  decodeAgentRef(w.AssignedAgent),
		}, nil

	case "message":
		m := Message{
			ID:             messageID(w),
			ConversationID: ival(w.ConversationID),
			Sender:         ClassifySender(senderTag(w)),
			Content:        content(w),
			Timestamp:      tval(firstTime(w.CreatedAt, w.Timestamp, w.Time, w.UpdatedAt)),
			Attachments:    w.Attachments,
		}
		return Event{Kind: KindChatMessage, ConversationID: m.ConversationID, Message: &m}, nil

	case "agent_joined", "agent_left":
		return Event{
			Kind:           KindAgentPresence,
			ConversationID: ival(w.ConversationID),
			AgentID:        ival(w.UserID),
			Joined:         w.Type == "agent_joined",
			Timestamp:      firstTime(w.Timestamp, w.CreatedAt, w.Time, w.UpdatedAt),
		}, nil

	case "conversation_assigned":
		ref := decodeAgentRef(w.AssignedAgent)
		if ref == nil {
			ref = &AgentRef{ID: ival(w.AgentID), Name: w.AgentName}
		}
		return Event{
			Kind:           KindConversationAssignment,
			ConversationID: ival(w.ConversationID),
			AssignedAgent:  ref,
			Assigned:       true,
			Timestamp:      firstTime(w.Timestamp, w.CreatedAt, w.Time, w.UpdatedAt),
		}, nil

	case "conversation_unassigned":
		return Event{
			Kind:           KindConversationAssignment,
			ConversationID: ival(w.ConversationID),
			Assigned:       false,
			Timestamp:      firstTime(w.Timestamp, w.CreatedAt, w.Time, w.UpdatedAt),
		}, nil

	case "ping", "pong", "heartbeat":
		return Event{Kind: KindHeartbeat}, nil
	}

	return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Type)
}

// NormalizeChat normalizes a chat-stream payload and stamps the owning
// conversation, which the chat socket scopes by path rather than payload.
func NormalizeChat(conversationID int64, raw []byte) (Event, error) {
	ev, err := Normalize(raw)
	if err != nil {
		return ev, err
	}
	if ev.ConversationID == 0 {
		ev.ConversationID = conversationID
	}
	if ev.Message != nil && ev.Message.ConversationID == 0 {
		ev.Message.ConversationID = conversationID
	}
	return ev, nil
}

type wireSummary struct {
	ConversationID *int64          `json:"conversation_id"`
	ID             *int64          `json:"id"`
	UserName       string          `json:"user_name"`
	Name           string          `json:"name"`
	CustomerName   string          `json:"customer_name"`
	Sender         string          `json:"sender"`
	WhatsappNumber string          `json:"patient_whatsapp_number"`
	PhoneNumber    string          `json:"phone_number"`
	Message        *string         `json:"message"`
	LastMessage    *string         `json:"last_message"`
	Timestamp      flexTime        `json:"timestamp"`
	UpdatedAt      flexTime        `json:"updated_at"`
	CreatedAt      flexTime        `json:"created_at"`
	UnreadCount    *int            `json:"unread_count"`
	AssignedAgent  json.RawMessage `json:"assigned_agent"`
	Department     *DepartmentRef  `json:"department"`
}

// NormalizeSummaries decodes an inbox snapshot body. The list may be the
// bare array or wrapped under items/data/results; a malformed body yields
// an empty list, never an error.
func NormalizeSummaries(raw []byte) []ConversationSummary {
	items := decodeList(raw, "items", "data", "results")
	out := make([]ConversationSummary, 0, len(items))
	for _, item := range items {
		var w wireSummary
		if err := json.Unmarshal(item, &w); err != nil {
			continue
		}
		id := ival(w.ConversationID)
		if id == 0 {
			id = ival(w.ID)
		}
		if id == 0 {
			continue
		}
		name := firstNonEmpty(w.UserName, w.Name, w.CustomerName, w.Sender, w.WhatsappNumber)
		last := ""
		if w.Message != nil {
			last = *w.Message
		} else if w.LastMessage != nil {
			last = *w.LastMessage
		}
		out = append(out, ConversationSummary{
			ConversationID: id,
			Name:           name,
			Phone:          firstNonEmpty(w.WhatsappNumber, w.PhoneNumber),
			LastMessage:    last,
			LastMessageAt:  firstTime(w.Timestamp, w.UpdatedAt, w.CreatedAt),
			UnreadCount:    uval(w.UnreadCount),
			AssignedAgent:  decodeAgentRef(w.AssignedAgent),
			Department:     w.Department,
		})
	}
	return out
}

type wireMessage struct {
	ID          *int64       `json:"id"`
	MessageID   *int64       `json:"message_id"`
	Content     *string      `json:"content"`
	Text        *string      `json:"text"`
	Message     *string      `json:"message"`
	Body        *string      `json:"body"`
	SenderType  string       `json:"sender_type"`
	Sender      string       `json:"sender"`
	CreatedAt   flexTime     `json:"created_at"`
	Timestamp   flexTime     `json:"timestamp"`
	Time        flexTime     `json:"time"`
	UpdatedAt   flexTime     `json:"updated_at"`
	Attachments []Attachment `json:"attachments"`
}

// NormalizeMessages decodes a conversation history body (bare array or
// wrapped under messages/items/data). Same malformed-body policy as
// NormalizeSummaries.
func NormalizeMessages(conversationID int64, raw []byte) []Message {
	items := decodeList(raw, "messages", "items", "data")
	out := make([]Message, 0, len(items))
	for _, item := range items {
		var w wireMessage
		if err := json.Unmarshal(item, &w); err != nil {
			continue
		}
		id := ival(w.MessageID)
		if id == 0 {
			id = ival(w.ID)
		}
		out = append(out, Message{
			ID:             id,
			ConversationID: conversationID,
			Sender:         ClassifySender(firstNonEmpty(w.SenderType, w.Sender)),
			Content:        firstStr(w.Content, w.Text, w.Message, w.Body),
			Timestamp:      tval(firstTime(w.CreatedAt, w.Timestamp, w.Time, w.UpdatedAt)),
			Attachments:    w.Attachments,
		})
	}
	return out
}

// ConversationDetail is the normalized shape of a conversation fetch:
// full history plus the metadata the agent view needs.
type ConversationDetail struct {
	ConversationID    int64
	Messages          []Message
	AssignedAgent     *AgentRef
	AutomationEnabled bool
}

type wireConversationMeta struct {
	Conversation *struct {
		AssignedAgent json.RawMessage `json:"assigned_agent"`
		IsAIEnabled   *bool           `json:"is_ai_enabled"`
	} `json:"conversation"`
}

// NormalizeConversationDetail decodes a conversation fetch body.
func NormalizeConversationDetail(conversationID int64, raw []byte) ConversationDetail {
	d := ConversationDetail{
		ConversationID: conversationID,
		Messages:       NormalizeMessages(conversationID, raw),
	}
	var meta wireConversationMeta
	if err := json.Unmarshal(raw, &meta); err == nil && meta.Conversation != nil {
		d.AssignedAgent = decodeAgentRef(meta.Conversation.AssignedAgent)
		if meta.Conversation.IsAIEnabled != nil {
			d.AutomationEnabled = *meta.Conversation.IsAIEnabled
		}
	}
	return d
}

// --------- decode helpers ----------------

// flexTime tolerates RFC3339 strings, "2006-01-02 15:04:05" and unix
// second/millisecond numbers. Zero value means absent.
type flexTime struct{ t time.Time }

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				f.t = t
				return nil
			}
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return nil
	}
	// heuristically epoch millis above year ~33658
	if n > 1e12 {
		f.t = time.UnixMilli(int64(n)).UTC()
	} else if n > 0 {
		f.t = time.Unix(int64(n), 0).UTC()
	}
	return nil
}

func firstTime(candidates ...flexTime) *time.Time {
	for _, c := range candidates {
		if !c.t.IsZero() {
			t := c.t
			return &t
		}
	}
	return nil
}

// decodeAgentRef tolerates an object, a bare name, a bare id, or null.
func decodeAgentRef(raw json.RawMessage) *AgentRef {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '{':
		var ref AgentRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil
		}
		if ref.ID == 0 && ref.Name == "" {
			return nil
		}
		return &ref
	case '"':
		var name string
		if err := json.Unmarshal(raw, &name); err != nil || name == "" {
			return nil
		}
		if id, err := strconv.ParseInt(name, 10, 64); err == nil {
			return &AgentRef{ID: id}
		}
		return &AgentRef{Name: name}
	default:
		var id int64
		if err := json.Unmarshal(raw, &id); err != nil || id == 0 {
			return nil
		}
		return &AgentRef{ID: id}
	}
}

// decodeList accepts a bare JSON array or an object wrapping one under any
// of the given keys, in priority order.
func decodeList(raw []byte, keys ...string) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		return items
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	for _, key := range keys {
		inner, ok := envelope[key]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(inner, &items); err == nil {
			return items
		}
	}
	return nil
}

func senderTag(w wireEvent) string { return firstNonEmpty(w.SenderType, w.Sender) }

func content(w wireEvent) string { return firstStr(w.Content, w.Text, w.Message, w.Body) }

func messageID(w wireEvent) int64 {
	if w.MessageID != nil {
		return *w.MessageID
	}
	var id int64
	if err := json.Unmarshal(bytes.TrimSpace(w.ID), &id); err == nil {
		return id
	}
	return 0
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

func firstStr(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return ""
}

func ival(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func tval(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

func uval(p *int) int {
	if p == nil || *p < 0 {
		return 0
	}
	return *p
}
