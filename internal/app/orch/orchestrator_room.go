package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Identify binds sid to uid; idempotent, a later call overwrites.
func (o *Orchestrator) Identify(sid core.SessionID, uid domain.UserID) error {
	if err := domain.ValidateUserID(uid); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}
	o.Registry.Identify(sid, uid)
	return nil
}

// Join moves sid into roomID, leaving a different current room first.
// Others get member-joined; the joiner alone gets room-snapshot.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID, displayName string) error {
	roomID, err := domain.ParseRoomID(string(roomID))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}
	ci, ok := o.Registry.Lookup(sid)
	if !ok {
		return fmt.Errorf("%w: unknown connection", domain.ErrInvalid)
	}
	if ci.User.ID == "" {
		return fmt.Errorf("%w: identify before joining", domain.ErrInvalid)
	}
	user := ci.User
	if err := user.SetUsername(displayName); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}

	if ci.RoomID != "" && ci.RoomID != roomID {
		o.leaveRoom(sid, ci.RoomID)
		o.Registry.RemoveRoom(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(ci.RoomID)).Msg("left previous room")
	}
	if err := o.Registry.UpdateUsername(sid, user.Username); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}

	ms := core.NewMemberSession(sid, domain.NewMember(user, o.now()), ci.Signal)
	snapshot := func(v core.RoomView) {
		v.SendTo(sid, core.Encode(core.EventRoomSnapshot, core.SnapshotPayload{
			RoomID:       roomID,
			ConnectionID: sid,
			Members:      v.Members(),
			Memos:        v.Memos(),
		}))
	}

	// Repeated join of the current room: refresh the name, resend the snapshot.
	if ci.RoomID == roomID {
		if room, ok := o.Rooms.Get(roomID); ok {
			res, err := room.RefreshMember(ms, snapshot)
			if err == nil {
				log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("name", user.Username).Msg("rejoined room")
				o.handleDropped(roomID, res)
				return nil
			}
		}
	}

	onJoin := func(v core.RoomView) {
		v.Fanout(sid, core.Encode(core.EventMemberJoined, core.PresencePayload{
			ConnectionID: sid,
			UserID:       user.ID,
			DisplayName:  user.Username,
			Members:      v.Members(),
		}), false)
		snapshot(v)
	}

	for {
		room := o.Rooms.GetOrCreate(roomID)
		res, err := room.AddMember(ms, onJoin)
		if errors.Is(err, core.ErrRoomClosed) {
			// Lost the race with the last leaver; drop the dead room and retry.
			o.Rooms.Release(roomID, room)
			continue
		}
		if err != nil {
			return err
		}
		o.Registry.UpdateRoom(sid, roomID)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("name", user.Username).Msg("joined room")
		o.handleDropped(roomID, res)
		break
	}

	o.sendHistory(sid, roomID, ci.Signal)
	return nil
}

// Leave is the explicit leave-room transition.
func (o *Orchestrator) Leave(sid core.SessionID) error {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return domain.ErrNotInRoom
	}
	o.leaveRoom(sid, roomID)
	o.Registry.RemoveRoom(sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left room")
	return nil
}

// OnDisconnect runs the leave cleanup for an abrupt or timed-out transport and
// forgets the connection.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	if roomID, ok := o.Registry.RoomOf(sid); ok {
		o.leaveRoom(sid, roomID)
	}
	if ci, ok := o.Registry.Unregister(sid); ok {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(ci.User.ID)).Msg("disconnected")
	}
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) leaveRoom(sid core.SessionID, roomID domain.RoomID) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	res, remaining, found := room.RemoveMember(sid, func(v core.RoomView, left core.MemberDTO) {
		members := v.Members()
		if len(members) == 0 {
			return
		}
		v.Fanout(sid, core.Encode(core.EventMemberLeft, core.PresencePayload{
			ConnectionID: left.ConnectionID,
			UserID:       left.UserID,
			DisplayName:  left.DisplayName,
			Members:      members,
		}), false)
	})
	if !found {
		return
	}
	if remaining == 0 {
		o.Rooms.Release(roomID, room)
	}
	o.handleDropped(roomID, res)
}
