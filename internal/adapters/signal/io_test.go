package signal

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		errRateLimited: "rate_limited",
		fmt.Errorf("memo x: %w", domain.ErrNotFound): "not_found",
		domain.ErrNotInRoom: "not_in_room",
		fmt.Errorf("%w: bad", domain.ErrInvalid): "invalid",
	}
	for err, want := range cases {
		assert.Equal(t, want, errorCode(err), err.Error())
	}
}

func TestDecodePayload(t *testing.T) {
	var p joinPayload
	assert.ErrorIs(t, decodePayload(nil, &p), domain.ErrInvalid)
	assert.ErrorIs(t, decodePayload(json.RawMessage(`[1]`), &p), domain.ErrInvalid)
	assert.NoError(t, decodePayload(json.RawMessage(`{"roomId":"trip-1","displayName":"A"}`), &p))
	assert.Equal(t, "trip-1", p.RoomID)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PongWait: 10 * time.Second, PingPeriod: 20 * time.Second}.withDefaults()
	assert.Less(t, o.PingPeriod, o.PongWait)
	assert.Equal(t, 256, o.SendBuffer)
	assert.Equal(t, int64(65536), o.ReadLimit)
}

func TestRelayKind(t *testing.T) {
	cases := map[string]core.SignalKind{
		"signal-offer":         core.SignalOffer,
		"signal-answer":        core.SignalAnswer,
		"signal-candidate":     core.SignalCandidate,
		"webrtc-offer":         core.SignalOffer,
		"webrtc-answer":        core.SignalAnswer,
		"webrtc-ice-candidate": core.SignalCandidate,
	}
	for event, want := range cases {
		got, ok := relayKind(event)
		assert.True(t, ok, event)
		assert.Equal(t, want, got, event)
	}
	for _, event := range []string{"signal-pranswer", "offer", "chat-message"} {
		_, ok := relayKind(event)
		assert.False(t, ok, event)
	}
}

func TestRelayPayloadBlob(t *testing.T) {
	var legacy relayPayload
	assert.NoError(t, decodePayload(json.RawMessage(`{"to":"b","offer":{"type":"offer","sdp":"v=0"}}`), &legacy))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(legacy.blob(core.SignalOffer)))

	var cand relayPayload
	assert.NoError(t, decodePayload(json.RawMessage(`{"to":"b","candidate":{"candidate":"c1"}}`), &cand))
	assert.JSONEq(t, `{"candidate":"c1"}`, string(cand.blob(core.SignalCandidate)))

	var current relayPayload
	assert.NoError(t, decodePayload(json.RawMessage(`{"to":"b","payload":{"sdp":"x"},"offer":{"sdp":"y"}}`), &current))
	assert.JSONEq(t, `{"sdp":"x"}`, string(current.blob(core.SignalOffer)))

	var nullPayload relayPayload
	assert.NoError(t, decodePayload(json.RawMessage(`{"to":"b","payload":null,"answer":{"sdp":"z"}}`), &nullPayload))
	assert.JSONEq(t, `{"sdp":"z"}`, string(nullPayload.blob(core.SignalAnswer)))
}
