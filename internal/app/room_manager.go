package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the room store. Its lock guards the id -> room map only;
// room state is guarded by each room.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
	newFn func(domain.RoomID) core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{
		rooms: make(map[domain.RoomID]core.RoomService),
		newFn: core.NewRoomService,
	}
}

func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = f.newFn(id)
	f.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) Release(id domain.RoomID, room core.RoomService) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rooms[id]
	if !ok || cur != room || room.MemberCount() > 0 {
		return false
	}
	delete(f.rooms, id)
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
	return true
}

// List reads per-room stats snapshots; it never waits on a room lock.
// Rooms between creation and their first member, or between their last leave
// and Release, are not reported.
func (f *RoomManagerImpl) List() []core.RoomStats {
	f.mu.RLock()
	out := make([]core.RoomStats, 0, len(f.rooms))
	for _, r := range f.rooms {
		if st := r.Stats(); st.MemberCount > 0 {
			out = append(out, st)
		}
	}
	f.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.RoomStats) int { return strings.Compare(string(a.RoomID), string(b.RoomID)) })
	return out
}

func (f *RoomManagerImpl) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}
