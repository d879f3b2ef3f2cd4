package domain

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

type MemoID string

// MemoOp names a memo log mutation, used when mirroring to a durable store.
type MemoOp string

const (
	MemoCreated MemoOp = "created"
	MemoUpdated MemoOp = "updated"
	MemoDeleted MemoOp = "deleted"
)

// Server-owned memo fields. Clients cannot set or patch them.
var reservedMemoFields = map[string]struct{}{
	"id":        {},
	"createdBy": {},
	"createdAt": {},
	"updatedAt": {},
	"rev":       {},
}

// Memo is one annotation in a room's log: a sticky note, a drawing, a pen stroke.
// Client content (type, content, position, ...) is kept opaque in Fields.
type Memo struct {
	ID        MemoID
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Rev is the room-wide sequence number of the last write.
	Rev    uint64
	Fields map[string]json.RawMessage
}

func NewMemo(author string, fields map[string]json.RawMessage, now time.Time) *Memo {
	return &Memo{
		ID:        MemoID(uuid.NewString()),
		CreatedBy: author,
		CreatedAt: now,
		UpdatedAt: now,
		Fields:    clientFields(fields),
	}
}

// Apply merges patch into the memo; a JSON null removes the field.
func (m *Memo) Apply(patch map[string]json.RawMessage, at time.Time, rev uint64) {
	if m.Fields == nil {
		m.Fields = make(map[string]json.RawMessage, len(patch))
	}
	for k, v := range clientFields(patch) {
		if string(v) == "null" {
			delete(m.Fields, k)
			continue
		}
		m.Fields[k] = v
	}
	m.UpdatedAt = at
	m.Rev = rev
}

func (m *Memo) Clone() Memo {
	c := *m
	c.Fields = maps.Clone(m.Fields)
	return c
}

func (m Memo) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+5)
	for k, v := range m.Fields {
		out[k] = v
	}
	out["id"] = m.ID
	out["createdBy"] = m.CreatedBy
	out["createdAt"] = m.CreatedAt
	out["updatedAt"] = m.UpdatedAt
	out["rev"] = m.Rev
	return json.Marshal(out)
}

func (m *Memo) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var head struct {
		ID        MemoID    `json:"id"`
		CreatedBy string    `json:"createdBy"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
		Rev       uint64    `json:"rev"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	m.ID, m.CreatedBy, m.CreatedAt, m.UpdatedAt, m.Rev = head.ID, head.CreatedBy, head.CreatedAt, head.UpdatedAt, head.Rev
	m.Fields = clientFields(raw)
	return nil
}

func clientFields(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		if _, ok := reservedMemoFields[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}
