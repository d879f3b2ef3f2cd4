package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
)

// relayPayload addresses one peer. Payload is opaque SDP or ICE data; older
// clients put it under offer, answer or candidate instead.
type relayPayload struct {
	To        core.SessionID  `json:"to"`
	Payload   json.RawMessage `json:"payload"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

func (p relayPayload) blob(kind core.SignalKind) json.RawMessage {
	if len(p.Payload) > 0 && string(p.Payload) != "null" {
		return p.Payload
	}
	switch kind {
	case core.SignalOffer:
		return p.Offer
	case core.SignalAnswer:
		return p.Answer
	default:
		return p.Candidate
	}
}

// relayKind maps signal-offer, webrtc-offer, webrtc-ice-candidate and the like to a kind.
func relayKind(event string) (core.SignalKind, bool) {
	var rest string
	switch {
	case strings.HasPrefix(event, "signal-"):
		rest = strings.TrimPrefix(event, "signal-")
	case strings.HasPrefix(event, "webrtc-"):
		rest = strings.TrimPrefix(strings.TrimPrefix(event, "webrtc-"), "ice-")
	default:
		return "", false
	}
	return core.ParseSignalKind(rest)
}

func (ctl *SignalWSController) handleRelay(sid core.SessionID, kind core.SignalKind, raw json.RawMessage) error {
	var p relayPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.To == "" {
		return fmt.Errorf("%w: target required", domain.ErrInvalid)
	}
	return ctl.Orch.Signal(sid, kind, p.To, p.blob(kind))
}
