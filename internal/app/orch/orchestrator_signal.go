package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Signal forwards payload unmodified to the connection to, and only to it.
// A target that is gone yields ErrUnknownTarget, which callers drop silently.
func (o *Orchestrator) Signal(sid core.SessionID, kind core.SignalKind, to core.SessionID, payload json.RawMessage) error {
	target, ok := o.Registry.Lookup(to)
	if !ok || target.Signal == nil {
		log.Debug().Str("module", "orch").Str("from", string(sid)).Str("to", string(to)).Str("kind", string(kind)).Msg("signal target gone")
		return domain.ErrUnknownTarget
	}
	sender, _ := o.Registry.Lookup(sid)
	frame := core.EncodeSignal(kind.EventType(), sid, sender.User.Username, payload)
	if err := target.Signal.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("to", string(to)).Str("kind", string(kind)).Msg("signal dropped")
		o.handleDropped(target.RoomID, core.PublishResult{Dropped: droppedOnBackpressure(to, err)})
		return nil
	}
	log.Debug().Str("module", "orch").Str("from", string(sid)).Str("to", string(to)).Str("kind", string(kind)).Msg("signal relayed")
	return nil
}

func droppedOnBackpressure(sid core.SessionID, err error) []core.SessionID {
	if errors.Is(err, core.ErrBackpressure) {
		return []core.SessionID{sid}
	}
	return nil
}
