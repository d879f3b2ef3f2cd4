package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errRateLimited = errors.New("rate limited")

// inbound is the client envelope: {"type": ..., "payload": {...}}.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(ctl.Opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump owns the connection's inbound order. Its exit is the single
// disconnect path for abrupt close, kick and idle timeout alike.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		cancel()
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
		ctl.handleSignal(sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, "", fmt.Errorf("%w: malformed envelope", domain.ErrInvalid))
		return
	}
	if !c.allow() {
		ctl.sendError(c, env.Type, errRateLimited)
		return
	}

	var err error
	switch env.Type {
	case "identify":
		err = ctl.handleIdentify(sid, c, env.Payload)
	case "join-room":
		err = ctl.handleJoin(sid, c, env.Payload)
	case "leave-room":
		err = ctl.handleLeave(sid, c)
	case "chat-message":
		err = ctl.handleChat(sid, env.Payload)
	case "typing-start":
		err = ctl.handleTyping(sid, env.Payload, true)
	case "typing-stop":
		err = ctl.handleTyping(sid, env.Payload, false)
	case "memo-create":
		err = ctl.handleMemoCreate(sid, env.Payload)
	case "memo-update":
		err = ctl.handleMemoUpdate(sid, env.Payload)
	case "memo-delete":
		err = ctl.handleMemoDelete(sid, env.Payload)
	case "signal-offer", "signal-answer", "signal-candidate",
		"webrtc-offer", "webrtc-answer", "webrtc-ice-candidate":
		kind, _ := relayKind(env.Type)
		err = ctl.handleRelay(sid, kind, env.Payload)
	case "ping":
		ctl.handlePing(c)
	case "whoami":
		ctl.handleWhoAmI(sid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		err = fmt.Errorf("%w: unknown event %q", domain.ErrInvalid, env.Type)
	}
	if err != nil {
		ctl.sendError(c, env.Type, err)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", domain.ErrInvalid)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: bad payload: %w", domain.ErrInvalid, err)
	}
	return nil
}

func (ctl *SignalWSController) send(c *WsSignalConn, t core.EventType, payload any) {
	if err := c.TrySend(core.Encode(t, payload)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("type", string(t)).Msg("reply dropped")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "invalid"
	}
}

// sendError reports a rejected event to its sender only. A gone relay target
// is not an error for the sender.
func (ctl *SignalWSController) sendError(c *WsSignalConn, event string, err error) {
	if errors.Is(err, domain.ErrUnknownTarget) {
		return
	}
	code := errorCode(err)
	log.Debug().Err(err).Str("module", "signal").Str("event", event).Str("code", code).Msg("event rejected")
	ctl.send(c, core.EventError, core.ErrorPayload{Code: code, Message: err.Error(), Event: event})
}
