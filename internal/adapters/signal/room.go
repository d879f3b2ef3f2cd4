package signal

import (
	"encoding/json"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

type joinPayload struct {
	RoomID      string        `json:"roomId"`
	UserID      domain.UserID `json:"userId,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
}

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type chatPayload struct {
	RoomID  domain.RoomID `json:"roomId"`
	Message string        `json:"message"`
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, c *WsSignalConn, raw json.RawMessage) error {
	var p joinPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.UserID != "" {
		if err := ctl.identify(sid, c, p.UserID); err != nil {
			return err
		}
	}
	name := p.DisplayName
	if name == "" {
		name = ctl.fallbackName(sid)
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room_id", p.RoomID).Msg("join")
	return ctl.Orch.Join(sid, domain.RoomID(p.RoomID), name)
}

// fallbackName keeps the current display name, or derives one from the user id.
func (ctl *SignalWSController) fallbackName(sid core.SessionID) string {
	who, ok := ctl.Orch.WhoAmI(sid)
	if !ok {
		return ""
	}
	if who.DisplayName != "" {
		return who.DisplayName
	}
	return domain.TruncateUsername(string(who.UserID))
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, c *WsSignalConn) error {
	roomID, _ := ctl.Orch.Registry.RoomOf(sid)
	if err := ctl.Orch.Leave(sid); err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room_id", string(roomID)).Msg("leave")
	ctl.send(c, core.EventLeft, roomPayload{RoomID: roomID})
	return nil
}

func (ctl *SignalWSController) handleChat(sid core.SessionID, raw json.RawMessage) error {
	var p chatPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	_, err := ctl.Orch.Chat(sid, p.RoomID, p.Message)
	return err
}

func (ctl *SignalWSController) handleTyping(sid core.SessionID, raw json.RawMessage, started bool) error {
	var p roomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	return ctl.Orch.Typing(sid, p.RoomID, started)
}
