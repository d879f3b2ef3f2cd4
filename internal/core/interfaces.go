package core

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/tripsync/internal/domain"
)

// ErrRoomClosed is returned by a room that lost its last member and is being
// removed from the store. Callers fetch a fresh room and retry.
var ErrRoomClosed = errors.New("room closed")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ConnectionID SessionID     `json:"connectionId"`
	UserID       domain.UserID `json:"userId"`
	DisplayName  string        `json:"displayName"`
}

// RoomView is handed to callbacks that run inside a room's critical section.
// It must not be retained after the callback returns.
type RoomView interface {
	Members() []MemberDTO
	Memos() []domain.Memo
	SendTo(sid SessionID, data Frame) bool
	Fanout(from SessionID, data Frame, includeSelf bool)
}

// RoomService is the core-facing API of a room.
// It owns the membership set and the memo log but never touches transport resources.
// Every mutation and its callback run under one exclusive section per room.
type RoomService interface {
	ID() domain.RoomID
	Stats() RoomStats
	MemberCount() int
	MemosSnapshot() []domain.Memo

	AddMember(ms MemberSession, then func(RoomView)) (PublishResult, error)
	// RefreshMember replaces the meta of a current member in place, keeping its position.
	RefreshMember(ms MemberSession, then func(RoomView)) (PublishResult, error)
	// RemoveMember reports the departed member and how many remain.
	RemoveMember(sid SessionID, then func(RoomView, MemberDTO)) (PublishResult, int, bool)
	// Publish runs fn only if from is a current member.
	Publish(from SessionID, fn func(RoomView)) (PublishResult, error)

	AppendMemo(by SessionID, memo *domain.Memo, then func(RoomView, domain.Memo)) (PublishResult, error)
	UpdateMemo(by SessionID, id domain.MemoID, patch map[string]json.RawMessage, then func(RoomView, domain.Memo)) (PublishResult, error)
	RemoveMemo(by SessionID, id domain.MemoID, then func(RoomView)) (PublishResult, error)
}

type RoomStats struct {
	RoomID      domain.RoomID `json:"roomId"`
	MemberCount int           `json:"memberCount"`
	MemoCount   int           `json:"annotationCount"`
	MemberNames []string      `json:"memberNames"`
}

type BrokerStats struct {
	RoomCount   int         `json:"roomCount"`
	Connections int         `json:"connections"`
	PerRoom     []RoomStats `json:"perRoom"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	// Release drops room from the store if it is still the one registered under id
	// and has no members left.
	Release(id domain.RoomID, room RoomService) bool
	List() []RoomStats
	Len() int
}
