package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Chat broadcasts body to every member of roomID, sender included.
func (o *Orchestrator) Chat(sid core.SessionID, roomID domain.RoomID, body string) (domain.ChatMessage, error) {
	room, ci, err := o.roomFor(sid, roomID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	msg, err := domain.NewChatMessage(roomID, ci.User, body, o.now())
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}
	frame := core.Encode(core.EventChatMessage, core.NewChatPayload(msg))
	res, err := room.Publish(sid, func(v core.RoomView) {
		v.Fanout(sid, frame, true)
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	o.handleDropped(roomID, res)
	if o.Archive != nil {
		o.Archive.Chat(msg)
	}
	return msg, nil
}

// Typing notifies every member except the sender.
func (o *Orchestrator) Typing(sid core.SessionID, roomID domain.RoomID, started bool) error {
	room, ci, err := o.roomFor(sid, roomID)
	if err != nil {
		return err
	}
	ev := core.EventUserStopTyping
	if started {
		ev = core.EventUserTyping
	}
	frame := core.Encode(ev, core.TypingPayload{ConnectionID: sid, DisplayName: ci.User.Username})
	res, err := room.Publish(sid, func(v core.RoomView) {
		v.Fanout(sid, frame, false)
	})
	if err != nil {
		return err
	}
	o.handleDropped(roomID, res)
	return nil
}

// sendHistory is best effort; it runs outside the room lock.
func (o *Orchestrator) sendHistory(sid core.SessionID, roomID domain.RoomID, sig core.SignalConnection) {
	if o.History == nil || sig == nil {
		return
	}
	limit := o.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	msgs, err := o.History.ChatHistory(ctx, roomID, limit)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(roomID)).Msg("load chat history")
		return
	}
	if len(msgs) == 0 {
		return
	}
	out := make([]core.ChatPayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, core.NewChatPayload(m))
	}
	if err := sig.TrySend(core.Encode(core.EventChatHistory, core.ChatHistoryPayload{Messages: out})); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("chat history dropped")
	}
}
