package core

import "github.com/dkeye/tripsync/internal/domain"

// SessionID identifies one duplex connection. Generated on accept.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Meta() domain.Member
	Signal() SignalConnection
}
