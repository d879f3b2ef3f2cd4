// Package orch holds the only code allowed to mutate rooms: presence
// (identify/join/leave/disconnect) and fan-out/relay of room events.
package orch

import (
	"context"
	"time"

	"github.com/dkeye/tripsync/internal/app"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Archiver mirrors successfully broadcast records. Calls must not block.
type Archiver interface {
	Chat(msg domain.ChatMessage)
	Memo(room domain.RoomID, op domain.MemoOp, memo domain.Memo)
}

// HistoryReader supplies recent chat to a new joiner.
type HistoryReader interface {
	ChatHistory(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error)
}

const (
	defaultHistoryLimit = 50
	historyTimeout      = 2 * time.Second
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy

	// Optional collaborators.
	Archive      Archiver
	History      HistoryReader
	HistoryLimit int

	Now func() time.Time
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

// Connect registers a new transport. cancel tears the transport down.
func (o *Orchestrator) Connect(sig core.SignalConnection, cancel context.CancelFunc) core.SessionID {
	return o.Registry.Register(sig, cancel)
}

func (o *Orchestrator) Stats() core.BrokerStats {
	rooms := o.Rooms.List()
	return core.BrokerStats{
		RoomCount:   len(rooms),
		Connections: o.Registry.Count(),
		PerRoom:     rooms,
	}
}

func (o *Orchestrator) WhoAmI(sid core.SessionID) (core.WhoAmIPayload, bool) {
	ci, ok := o.Registry.Lookup(sid)
	if !ok {
		return core.WhoAmIPayload{}, false
	}
	return core.WhoAmIPayload{
		ConnectionID: sid,
		UserID:       ci.User.ID,
		DisplayName:  ci.User.Username,
		RoomID:       ci.RoomID,
		State:        ci.State.String(),
	}, true
}

// handleDropped applies the backpressure policy once the room lock is released.
func (o *Orchestrator) handleDropped(room domain.RoomID, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("room", string(room)).Str("sid", string(slow)).Msg("kicking slow member")
			o.Registry.Cancel(slow)
		case app.NoAction:
		}
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// roomFor returns the room sid is in, which must be roomID.
func (o *Orchestrator) roomFor(sid core.SessionID, roomID domain.RoomID) (core.RoomService, app.ConnInfo, error) {
	ci, ok := o.Registry.Lookup(sid)
	if !ok || ci.RoomID == "" || ci.RoomID != roomID {
		return nil, ci, domain.ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, ci, domain.ErrNotInRoom
	}
	return room, ci, nil
}
