package signal

import (
	"github.com/dkeye/tripsync/internal/core"
)

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.send(c, core.EventPong, nil)
}

func (ctl *SignalWSController) handleWhoAmI(sid core.SessionID, c *WsSignalConn) {
	who, ok := ctl.Orch.WhoAmI(sid)
	if !ok {
		return
	}
	ctl.send(c, core.EventWhoAmI, who)
}

func (ctl *SignalWSController) sendIdentified(sid core.SessionID, c *WsSignalConn) {
	who, ok := ctl.Orch.WhoAmI(sid)
	if !ok {
		return
	}
	ctl.send(c, core.EventIdentified, who)
}
