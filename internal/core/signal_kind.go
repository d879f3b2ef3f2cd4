package core

import (
	"github.com/pion/webrtc/v4"
)

// SignalKind is the negotiation step a relayed payload belongs to.
type SignalKind string

var (
	SignalOffer     = SignalKind(webrtc.SDPTypeOffer.String())
	SignalAnswer    = SignalKind(webrtc.SDPTypeAnswer.String())
	SignalCandidate = SignalKind("candidate")
)

// ParseSignalKind accepts the SDP type names plus "candidate".
func ParseSignalKind(s string) (SignalKind, bool) {
	if s == string(SignalCandidate) {
		return SignalCandidate, true
	}
	switch webrtc.NewSDPType(s) {
	case webrtc.SDPTypeOffer:
		return SignalOffer, true
	case webrtc.SDPTypeAnswer:
		return SignalAnswer, true
	default:
		return "", false
	}
}

func (k SignalKind) EventType() EventType {
	switch k {
	case SignalOffer:
		return EventSignalOffer
	case SignalAnswer:
		return EventSignalAnswer
	default:
		return EventSignalCandidate
	}
}
