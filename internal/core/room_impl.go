package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// MaxMemos bounds a room's memo log; the oldest memo is evicted first.
const MaxMemos = 500

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	id domain.RoomID

	mu      sync.Mutex
	closed  bool
	bySID   map[SessionID]MemberSession
	order   []SessionID
	memos   []*domain.Memo
	rev     uint64
	lastTS  time.Time
	now     func() time.Time
	pending PublishResult

	stats atomic.Pointer[RoomStats]
}

func NewRoomService(id domain.RoomID) RoomService {
	return newRoom(id, time.Now)
}

func newRoom(id domain.RoomID, now func() time.Time) *roomImpl {
	r := &roomImpl{
		id:    id,
		bySID: make(map[SessionID]MemberSession),
		now:   now,
	}
	r.publishStats()
	return r
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

// Stats never takes the room lock.
func (r *roomImpl) Stats() RoomStats { return *r.stats.Load() }

func (r *roomImpl) MemberCount() int { return r.Stats().MemberCount }

func (r *roomImpl) MemosSnapshot() []domain.Memo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memoCopies()
}

func (r *roomImpl) AddMember(ms MemberSession, then func(RoomView)) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, ErrRoomClosed
	}
	sid := ms.ID()
	if _, ok := r.bySID[sid]; !ok {
		r.order = append(r.order, sid)
	}
	r.bySID[sid] = ms
	r.publishStats()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("members", len(r.bySID)).Msg("member added")
	return r.run(func() {
		if then != nil {
			then(r)
		}
	}), nil
}

func (r *roomImpl) RefreshMember(ms MemberSession, then func(RoomView)) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid := ms.ID()
	if _, ok := r.bySID[sid]; !ok {
		return PublishResult{}, domain.ErrNotInRoom
	}
	r.bySID[sid] = ms
	r.publishStats()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Msg("member refreshed")
	return r.run(func() {
		if then != nil {
			then(r)
		}
	}), nil
}

func (r *roomImpl) RemoveMember(sid SessionID, then func(RoomView, MemberDTO)) (PublishResult, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return PublishResult{}, len(r.bySID), false
	}
	delete(r.bySID, sid)
	r.order = slices.DeleteFunc(r.order, func(s SessionID) bool { return s == sid })
	if len(r.bySID) == 0 {
		r.closed = true
		r.memos = nil
	}
	r.publishStats()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("members", len(r.bySID)).Msg("member removed")

	left := toDTO(ms)
	res := r.run(func() {
		if then != nil {
			then(r, left)
		}
	})
	return res, len(r.bySID), true
}

func (r *roomImpl) Publish(from SessionID, fn func(RoomView)) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[from]; !ok {
		return PublishResult{}, domain.ErrNotInRoom
	}
	return r.run(func() { fn(r) }), nil
}

func (r *roomImpl) AppendMemo(by SessionID, memo *domain.Memo, then func(RoomView, domain.Memo)) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[by]; !ok {
		return PublishResult{}, domain.ErrNotInRoom
	}
	stamp, rev := r.stamp()
	memo.CreatedAt, memo.UpdatedAt, memo.Rev = stamp, stamp, rev
	r.memos = append(r.memos, memo)
	if over := len(r.memos) - MaxMemos; over > 0 {
		r.memos = slices.Delete(r.memos, 0, over)
	}
	r.publishStats()

	created := memo.Clone()
	return r.run(func() {
		if then != nil {
			then(r, created)
		}
	}), nil
}

// UpdateMemo is last-writer-wins: writes are serialized by the room lock and
// each one gets a strictly increasing rev and updatedAt.
func (r *roomImpl) UpdateMemo(by SessionID, id domain.MemoID, patch map[string]json.RawMessage, then func(RoomView, domain.Memo)) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[by]; !ok {
		return PublishResult{}, domain.ErrNotInRoom
	}
	i := r.memoIndex(id)
	if i < 0 {
		return PublishResult{}, fmt.Errorf("memo %s: %w", id, domain.ErrNotFound)
	}
	stamp, rev := r.stamp()
	r.memos[i].Apply(patch, stamp, rev)

	updated := r.memos[i].Clone()
	return r.run(func() {
		if then != nil {
			then(r, updated)
		}
	}), nil
}

func (r *roomImpl) RemoveMemo(by SessionID, id domain.MemoID, then func(RoomView)) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[by]; !ok {
		return PublishResult{}, domain.ErrNotInRoom
	}
	i := r.memoIndex(id)
	if i < 0 {
		return PublishResult{}, fmt.Errorf("memo %s: %w", id, domain.ErrNotFound)
	}
	r.memos = slices.Delete(r.memos, i, i+1)
	r.publishStats()
	return r.run(func() {
		if then != nil {
			then(r)
		}
	}), nil
}

// RoomView, valid only while r.mu is held.

func (r *roomImpl) Members() []MemberDTO { return r.members() }

func (r *roomImpl) Memos() []domain.Memo { return r.memoCopies() }

func (r *roomImpl) SendTo(sid SessionID, data Frame) bool {
	ms, ok := r.bySID[sid]
	if !ok || data == nil {
		return false
	}
	if err := ms.Signal().TrySend(data); err != nil {
		r.drop(sid, err)
		return false
	}
	r.pending.SendTo++
	return true
}

func (r *roomImpl) Fanout(from SessionID, data Frame, includeSelf bool) {
	if data == nil {
		return
	}
	for _, sid := range r.order {
		if sid == from && !includeSelf {
			continue
		}
		if err := r.bySID[sid].Signal().TrySend(data); err != nil {
			r.drop(sid, err)
			continue
		}
		r.pending.SendTo++
	}
}

// helpers, r.mu held

func (r *roomImpl) run(fn func()) PublishResult {
	r.pending = PublishResult{}
	fn()
	res := r.pending
	r.pending = PublishResult{}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("publish result")
	return res
}

func (r *roomImpl) drop(sid SessionID, err error) {
	if errors.Is(err, ErrBackpressure) {
		r.pending.Dropped = append(r.pending.Dropped, sid)
	}
	log.Debug().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Msg("send dropped")
}

// stamp returns a server timestamp strictly after the previous one and the next rev.
func (r *roomImpl) stamp() (time.Time, uint64) {
	ts := r.now()
	if !ts.After(r.lastTS) {
		ts = r.lastTS.Add(time.Nanosecond)
	}
	r.lastTS = ts
	r.rev++
	return ts, r.rev
}

func (r *roomImpl) memoIndex(id domain.MemoID) int {
	return slices.IndexFunc(r.memos, func(m *domain.Memo) bool { return m.ID == id })
}

func (r *roomImpl) members() []MemberDTO {
	out := make([]MemberDTO, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, toDTO(r.bySID[sid]))
	}
	return out
}

func (r *roomImpl) memoCopies() []domain.Memo {
	out := make([]domain.Memo, 0, len(r.memos))
	for _, m := range r.memos {
		out = append(out, m.Clone())
	}
	return out
}

func (r *roomImpl) publishStats() {
	names := make([]string, 0, len(r.order))
	for _, sid := range r.order {
		names = append(names, r.bySID[sid].Meta().DisplayName)
	}
	r.stats.Store(&RoomStats{
		RoomID:      r.id,
		MemberCount: len(r.bySID),
		MemoCount:   len(r.memos),
		MemberNames: names,
	})
}

func toDTO(ms MemberSession) MemberDTO {
	meta := ms.Meta()
	return MemberDTO{ConnectionID: ms.ID(), UserID: meta.UserID, DisplayName: meta.DisplayName}
}
