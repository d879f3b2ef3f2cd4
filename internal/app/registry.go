package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConnState is the presence state of one connection.
type ConnState int

const (
	Anonymous ConnState = iota
	Identified
	InRoom
)

func (s ConnState) String() string {
	switch s {
	case Identified:
		return "identified"
	case InRoom:
		return "in_room"
	default:
		return "anonymous"
	}
}

type sessionEntry struct {
	User        domain.User
	RoomID      domain.RoomID
	Signal      core.SignalConnection
	Cancel      context.CancelFunc
	ConnectedAt time.Time
}

func (e *sessionEntry) state() ConnState {
	switch {
	case e.RoomID != "":
		return InRoom
	case e.User.ID != "":
		return Identified
	default:
		return Anonymous
	}
}

// ConnInfo is a copy of a registry entry.
type ConnInfo struct {
	ID          core.SessionID
	User        domain.User
	RoomID      domain.RoomID
	State       ConnState
	Signal      core.SignalConnection
	ConnectedAt time.Time
}

// Registry maps connections to their claimed user and current room, and users back to connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]core.SessionID),
	}
}

// Register binds a freshly accepted transport and returns its connection id.
func (r *Registry) Register(sig core.SignalConnection, cancel context.CancelFunc) core.SessionID {
	sid := core.SessionID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: sig, Cancel: cancel, ConnectedAt: time.Now()}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("registered connection")
	return sid
}

// Identify binds sid to uid. Re-identifying overwrites the previous user id.
// Unknown sids are reported and ignored.
func (r *Registry) Identify(sid core.SessionID, uid domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Msg("identify on unknown connection")
		return false
	}
	if prev := e.User.ID; prev != "" && prev != uid && r.users[prev] == sid {
		delete(r.users, prev)
	}
	e.User.ID = uid
	r.users[uid] = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Msg("identified")
	return true
}

func (r *Registry) UpdateUsername(sid core.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.ErrUnknownTarget
	}
	if err := e.User.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", e.User.Username).Msg("updated username")
	return nil
}

// LookupByUser returns the most recently identified connection of uid.
func (r *Registry) LookupByUser(uid domain.UserID) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.users[uid]
	return sid, ok
}

func (r *Registry) Lookup(sid core.SessionID) (ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ConnInfo{}, false
	}
	return info(sid, e), true
}

func (r *Registry) State(sid core.SessionID) ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.state()
	}
	return Anonymous
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

func (r *Registry) UpdateRoom(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.RoomID = room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.RoomID = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

// Unregister drops sid and returns what it held.
func (r *Registry) Unregister(sid core.SessionID) (ConnInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ConnInfo{}, false
	}
	delete(r.sessions, sid)
	if uid := e.User.ID; uid != "" && r.users[uid] == sid {
		delete(r.users, uid)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return info(sid, e), true
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func info(sid core.SessionID, e *sessionEntry) ConnInfo {
	return ConnInfo{
		ID:          sid,
		User:        e.User,
		RoomID:      e.RoomID,
		State:       e.state(),
		Signal:      e.Signal,
		ConnectedAt: e.ConnectedAt,
	}
}
