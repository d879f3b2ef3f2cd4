package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

type identifyPayload struct {
	UserID domain.UserID `json:"userId"`
}

func (ctl *SignalWSController) handleIdentify(sid core.SessionID, c *WsSignalConn, raw json.RawMessage) error {
	var p identifyPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := ctl.identify(sid, c, p.UserID); err != nil {
		return err
	}
	ctl.sendIdentified(sid, c)
	return nil
}

// identify checks uid against the connection's credential before binding it.
func (ctl *SignalWSController) identify(sid core.SessionID, c *WsSignalConn, uid domain.UserID) error {
	if c.boundUser != "" && uid != c.boundUser {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("claimed", string(uid)).Str("verified", string(c.boundUser)).Msg("identify mismatch")
		return fmt.Errorf("%w: user id does not match credential", domain.ErrInvalid)
	}
	return ctl.Orch.Identify(sid, uid)
}
