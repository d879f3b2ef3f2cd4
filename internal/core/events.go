package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

type EventType string

// Outbound events.
const (
	EventRoomSnapshot    EventType = "room-snapshot"
	EventMemberJoined    EventType = "member-joined"
	EventMemberLeft      EventType = "member-left"
	EventLeft            EventType = "left"
	EventChatMessage     EventType = "chat-message"
	EventChatHistory     EventType = "chat-history"
	EventUserTyping      EventType = "user-typing"
	EventUserStopTyping  EventType = "user-stopped-typing"
	EventMemoCreated     EventType = "memo-created"
	EventMemoUpdated     EventType = "memo-updated"
	EventMemoDeleted     EventType = "memo-deleted"
	EventSignalOffer     EventType = "signal-offer"
	EventSignalAnswer    EventType = "signal-answer"
	EventSignalCandidate EventType = "signal-candidate"
	EventIdentified      EventType = "identified"
	EventWhoAmI          EventType = "whoami"
	EventPong            EventType = "pong"
	EventError           EventType = "error"
)

// Event is the wire envelope in both directions: {"type": ..., "payload": ...}.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Encode marshals the event; on failure it logs and returns nil, which senders skip.
func Encode(t EventType, payload any) Frame {
	b, err := json.Marshal(Event{Type: t, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "core.events").Str("type", string(t)).Msg("encode event")
		return nil
	}
	return b
}

type SnapshotPayload struct {
	RoomID       domain.RoomID `json:"roomId"`
	ConnectionID SessionID     `json:"connectionId"`
	Members      []MemberDTO   `json:"members"`
	Memos        []domain.Memo `json:"memos"`
}

type PresencePayload struct {
	ConnectionID SessionID     `json:"connectionId"`
	UserID       domain.UserID `json:"userId"`
	DisplayName  string        `json:"displayName"`
	Members      []MemberDTO   `json:"members"`
}

type ChatPayload struct {
	ID     string        `json:"id"`
	UserID domain.UserID `json:"userId"`
	Author string        `json:"author"`
	Body   string        `json:"body"`
	TS     time.Time     `json:"ts"`
}

func NewChatPayload(m domain.ChatMessage) ChatPayload {
	return ChatPayload{ID: m.ID, UserID: m.UserID, Author: m.Author, Body: m.Body, TS: m.Timestamp}
}

type ChatHistoryPayload struct {
	Messages []ChatPayload `json:"messages"`
}

type TypingPayload struct {
	ConnectionID SessionID `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
}

type MemoUpdatedPayload struct {
	MemoID domain.MemoID `json:"memoId"`
	Memo   domain.Memo   `json:"memo"`
}

type MemoDeletedPayload struct {
	MemoID domain.MemoID `json:"memoId"`
}

// SignalPayload carries the sender's negotiation blob verbatim.
type SignalPayload struct {
	From            SessionID       `json:"from"`
	FromDisplayName string          `json:"fromDisplayName"`
	Payload         json.RawMessage `json:"payload"`
}

// EncodeSignal splices raw into the frame byte for byte; json.Marshal would
// compact and re-escape it.
func EncodeSignal(t EventType, from SessionID, fromName string, raw json.RawMessage) Frame {
	typeJSON, err := json.Marshal(t)
	if err != nil {
		log.Error().Err(err).Str("module", "core.events").Str("type", string(t)).Msg("encode signal")
		return nil
	}
	fromJSON, _ := json.Marshal(from)
	nameJSON, _ := json.Marshal(fromName)
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	out := make([]byte, 0, len(raw)+len(fromJSON)+len(nameJSON)+80)
	out = append(out, `{"type":`...)
	out = append(out, typeJSON...)
	out = append(out, `,"payload":{"from":`...)
	out = append(out, fromJSON...)
	out = append(out, `,"fromDisplayName":`...)
	out = append(out, nameJSON...)
	out = append(out, `,"payload":`...)
	out = append(out, raw...)
	out = append(out, `}}`...)
	return out
}

type WhoAmIPayload struct {
	ConnectionID SessionID     `json:"connectionId"`
	UserID       domain.UserID `json:"userId,omitempty"`
	DisplayName  string        `json:"displayName,omitempty"`
	RoomID       domain.RoomID `json:"roomId,omitempty"`
	State        string        `json:"state"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
