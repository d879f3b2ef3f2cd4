package app

import (
	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose send buffer overflowed during a fan-out.
type Policy interface {
	OnBackPressure(room domain.RoomID, sid core.SessionID) BackpressureAction
}

// SimplePolicy disconnects slow consumers; the client reconnects and gets a fresh snapshot.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, core.SessionID) BackpressureAction {
	return KickMember
}

// LenientPolicy keeps slow consumers connected; they just miss events.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(domain.RoomID, core.SessionID) BackpressureAction {
	return NoAction
}

// PolicyFor maps the backpressure config value to a Policy; anything but
// "lenient" kicks.
func PolicyFor(name string) Policy {
	if name == "lenient" {
		return LenientPolicy{}
	}
	return SimplePolicy{}
}
