package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/tripsync/internal/app"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
)

type wireEvent struct {
	Type    core.EventType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type fakeConn struct {
	mu       sync.Mutex
	events   []wireEvent
	full     bool
	canceled bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	var ev wireEvent
	if err := json.Unmarshal(f, &ev); err != nil {
		panic(err)
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) ofType(t core.EventType) []wireEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wireEvent
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *fakeConn) wasCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

type recordingArchive struct {
	mu    sync.Mutex
	chats []domain.ChatMessage
	ops   []domain.MemoOp
}

func (a *recordingArchive) Chat(m domain.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chats = append(a.chats, m)
}

func (a *recordingArchive) Memo(_ domain.RoomID, op domain.MemoOp, _ domain.Memo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, op)
}

type stubHistory struct{ msgs []domain.ChatMessage }

func (h stubHistory) ChatHistory(context.Context, domain.RoomID, int) ([]domain.ChatMessage, error) {
	return h.msgs, nil
}

func newTestOrch() *Orchestrator {
	return New(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{})
}

func connect(t *testing.T, o *Orchestrator, uid domain.UserID) (core.SessionID, *fakeConn) {
	t.Helper()
	c := &fakeConn{}
	sid := o.Connect(c, func() {
		c.mu.Lock()
		c.canceled = true
		c.mu.Unlock()
	})
	if uid != "" {
		require.NoError(t, o.Identify(sid, uid))
	}
	return sid, c
}

func decode[T any](t *testing.T, ev wireEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Payload, &v))
	return v
}

func TestScenario_TripRoom(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")

	require.NoError(t, o.Join(a, "trip-42", "Alice"))
	require.NoError(t, o.Join(b, "trip-42", "Bob"))

	_, err := o.Chat(a, "trip-42", "hello")
	require.NoError(t, err)

	for _, c := range []*fakeConn{ca, cb} {
		msgs := c.ofType(core.EventChatMessage)
		require.Len(t, msgs, 1)
		p := decode[core.ChatPayload](t, msgs[0])
		assert.Equal(t, "Alice", p.Author)
		assert.Equal(t, "hello", p.Body)
	}

	// Abrupt disconnect of B, no leave-room.
	o.OnDisconnect(b)
	left := ca.ofType(core.EventMemberLeft)
	require.Len(t, left, 1)
	lp := decode[core.PresencePayload](t, left[0])
	assert.Equal(t, "Bob", lp.DisplayName)
	require.Len(t, lp.Members, 1)
	assert.Equal(t, a, lp.Members[0].ConnectionID)

	require.NoError(t, o.Leave(a))
	st := o.Stats()
	assert.Equal(t, 0, st.RoomCount)
	assert.Empty(t, st.PerRoom)
	assert.Equal(t, 0, o.Rooms.Len())
}

func TestJoin_SnapshotAndPresence(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")

	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	_, err := o.MemoCreate(a, "trip-1", map[string]json.RawMessage{"type": json.RawMessage(`"text"`)})
	require.NoError(t, err)
	require.NoError(t, o.Join(b, "trip-1", "Bob"))

	// The joiner gets no member-joined about itself.
	assert.Empty(t, cb.ofType(core.EventMemberJoined))
	snaps := cb.ofType(core.EventRoomSnapshot)
	require.Len(t, snaps, 1)
	snap := decode[core.SnapshotPayload](t, snaps[0])
	assert.Equal(t, b, snap.ConnectionID)
	assert.ElementsMatch(t, []core.SessionID{a, b}, []core.SessionID{snap.Members[0].ConnectionID, snap.Members[1].ConnectionID})
	require.Len(t, snap.Memos, 1)

	joined := ca.ofType(core.EventMemberJoined)
	require.Len(t, joined, 1)
	jp := decode[core.PresencePayload](t, joined[0])
	assert.Equal(t, "Bob", jp.DisplayName)
	assert.Equal(t, b, jp.ConnectionID)
	assert.Len(t, jp.Members, 2)
	assert.Len(t, ca.ofType(core.EventRoomSnapshot), 1)
}

func TestSnapshotMatchesCurrentMembers(t *testing.T) {
	o := newTestOrch()
	ids := make([]core.SessionID, 0, 4)
	for _, uid := range []domain.UserID{"u1", "u2", "u3", "u4"} {
		sid, _ := connect(t, o, uid)
		require.NoError(t, o.Join(sid, "trip-9", string(uid)))
		ids = append(ids, sid)
	}
	require.NoError(t, o.Leave(ids[1]))
	o.OnDisconnect(ids[3])

	late, cl := connect(t, o, "u5")
	require.NoError(t, o.Join(late, "trip-9", "u5"))

	snap := decode[core.SnapshotPayload](t, cl.ofType(core.EventRoomSnapshot)[0])
	got := make([]core.SessionID, 0, len(snap.Members))
	for _, m := range snap.Members {
		got = append(got, m.ConnectionID)
	}
	assert.ElementsMatch(t, []core.SessionID{ids[0], ids[2], late}, got)
}

func TestJoin_RequiresIdentity(t *testing.T) {
	o := newTestOrch()
	sid, _ := connect(t, o, "")
	err := o.Join(sid, "trip-1", "Nobody")
	assert.ErrorIs(t, err, domain.ErrInvalid)
	assert.Equal(t, app.Anonymous, o.Registry.State(sid))

	require.NoError(t, o.Identify(sid, "u1"))
	assert.ErrorIs(t, o.Join(sid, "trip-1", ""), domain.ErrInvalid)
	assert.Equal(t, 0, o.Stats().RoomCount)
}

func TestJoin_SwitchRoomLeavesOldFirst(t *testing.T) {
	o := newTestOrch()
	a, _ := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-1", "Bob"))

	require.NoError(t, o.Join(a, "trip-2", "Alice"))

	assert.Len(t, cb.ofType(core.EventMemberLeft), 1)
	room, ok := o.Registry.RoomOf(a)
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("trip-2"), room)

	st := o.Stats()
	require.Equal(t, 2, st.RoomCount)
	assert.Equal(t, 1, st.PerRoom[0].MemberCount)
	assert.Equal(t, []string{"Bob"}, st.PerRoom[0].MemberNames)
	assert.Equal(t, []string{"Alice"}, st.PerRoom[1].MemberNames)
}

func TestLeave_NotInRoom(t *testing.T) {
	o := newTestOrch()
	sid, _ := connect(t, o, "u1")
	assert.ErrorIs(t, o.Leave(sid), domain.ErrNotInRoom)
}

func TestChat_RejectsNonMembers(t *testing.T) {
	o := newTestOrch()
	a, _ := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-2", "Bob"))

	_, err := o.Chat(b, "trip-1", "sneaky")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
	assert.Empty(t, cb.ofType(core.EventChatMessage))

	_, err = o.Chat(a, "trip-1", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestChat_PerSenderOrder(t *testing.T) {
	o := newTestOrch()
	archive := &recordingArchive{}
	o.Archive = archive
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-1", "Bob"))

	bodies := []string{"m1", "m2", "m3", "m4"}
	for _, body := range bodies {
		_, err := o.Chat(a, "trip-1", body)
		require.NoError(t, err)
	}
	for _, c := range []*fakeConn{ca, cb} {
		msgs := c.ofType(core.EventChatMessage)
		require.Len(t, msgs, len(bodies))
		for i, ev := range msgs {
			assert.Equal(t, bodies[i], decode[core.ChatPayload](t, ev).Body)
		}
	}
	assert.Len(t, archive.chats, len(bodies))
}

func TestTyping_ExcludesSender(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-1", "Bob"))

	require.NoError(t, o.Typing(a, "trip-1", true))
	require.NoError(t, o.Typing(a, "trip-1", false))

	assert.Empty(t, ca.ofType(core.EventUserTyping))
	assert.Empty(t, ca.ofType(core.EventUserStopTyping))
	typing := cb.ofType(core.EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "Alice", decode[core.TypingPayload](t, typing[0]).DisplayName)
	assert.Len(t, cb.ofType(core.EventUserStopTyping), 1)
}

func TestMemo_RoundTrip(t *testing.T) {
	o := newTestOrch()
	archive := &recordingArchive{}
	o.Archive = archive
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-1", "Bob"))

	memo, err := o.MemoCreate(a, "trip-1", map[string]json.RawMessage{"content": json.RawMessage(`{"text":"P"}`)})
	require.NoError(t, err)
	require.NotEmpty(t, memo.ID)
	assert.Equal(t, "Alice", memo.CreatedBy)

	for _, c := range []*fakeConn{ca, cb} {
		created := c.ofType(core.EventMemoCreated)
		require.Len(t, created, 1)
		var m domain.Memo
		require.NoError(t, json.Unmarshal(created[0].Payload, &m))
		assert.Equal(t, memo.ID, m.ID)
	}

	updated, err := o.MemoUpdate(b, "trip-1", memo.ID, map[string]json.RawMessage{"content": json.RawMessage(`{"text":"P2"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"P2"}`, string(updated.Fields["content"]))
	up := decode[core.MemoUpdatedPayload](t, ca.ofType(core.EventMemoUpdated)[0])
	assert.Equal(t, memo.ID, up.MemoID)

	require.NoError(t, o.MemoDelete(a, "trip-1", memo.ID))
	assert.Len(t, cb.ofType(core.EventMemoDeleted), 1)

	room, ok := o.Rooms.Get("trip-1")
	require.True(t, ok)
	assert.Empty(t, room.MemosSnapshot())
	assert.Equal(t, []domain.MemoOp{domain.MemoCreated, domain.MemoUpdated, domain.MemoDeleted}, archive.ops)
}

func TestMemo_UnknownIDDoesNotBroadcast(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-1", "Bob"))
	ca.reset()
	cb.reset()

	_, err := o.MemoUpdate(a, "trip-1", "nope", map[string]json.RawMessage{"x": json.RawMessage(`1`)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, o.MemoDelete(a, "trip-1", "nope"), domain.ErrNotFound)

	assert.Empty(t, ca.events)
	assert.Empty(t, cb.events)
}

func TestSignal_UnicastVerbatim(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	c, cc := connect(t, o, "user-c")
	for sid, name := range map[core.SessionID]string{a: "Alice", b: "Bob", c: "Carol"} {
		require.NoError(t, o.Join(sid, "trip-1", name))
	}
	ca.reset()
	cb.reset()
	cc.reset()

	raw := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n  a=x"}`)
	require.NoError(t, o.Signal(a, core.SignalOffer, b, raw))

	assert.Empty(t, ca.events)
	assert.Empty(t, cc.events)
	offers := cb.ofType(core.EventSignalOffer)
	require.Len(t, offers, 1)
	p := decode[core.SignalPayload](t, offers[0])
	assert.Equal(t, a, p.From)
	assert.Equal(t, "Alice", p.FromDisplayName)
	assert.Equal(t, string(raw), string(p.Payload))
}

func TestSignal_UnknownTarget(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	b, _ := connect(t, o, "user-b")
	o.OnDisconnect(b)

	err := o.Signal(a, core.SignalCandidate, b, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrUnknownTarget)
	assert.Empty(t, ca.events)
}

func TestBackpressure_KicksSlowMember(t *testing.T) {
	o := newTestOrch()
	a, _ := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-1", "Bob"))

	cb.mu.Lock()
	cb.full = true
	cb.mu.Unlock()

	_, err := o.Chat(a, "trip-1", "hi")
	require.NoError(t, err)
	assert.True(t, cb.wasCanceled())

	// The transport reacts to cancel by disconnecting.
	o.OnDisconnect(b)
	assert.Equal(t, 1, o.Stats().PerRoom[0].MemberCount)
}

func TestBackpressure_LenientKeepsSlowMember(t *testing.T) {
	o := New(app.NewRegistry(), app.NewRoomManager(), app.PolicyFor("lenient"))
	a, _ := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))
	require.NoError(t, o.Join(b, "trip-1", "Bob"))

	cb.mu.Lock()
	cb.full = true
	cb.mu.Unlock()

	_, err := o.Chat(a, "trip-1", "hi")
	require.NoError(t, err)
	assert.False(t, cb.wasCanceled())
	assert.Equal(t, 2, o.Stats().PerRoom[0].MemberCount)
}

func TestJoin_SendsChatHistory(t *testing.T) {
	o := newTestOrch()
	o.History = stubHistory{msgs: []domain.ChatMessage{
		{ID: "1", RoomID: "trip-1", Author: "Old", Body: "earlier", Timestamp: time.Unix(10, 0)},
	}}
	a, ca := connect(t, o, "user-a")
	require.NoError(t, o.Join(a, "trip-1", "Alice"))

	hist := ca.ofType(core.EventChatHistory)
	require.Len(t, hist, 1)
	hp := decode[core.ChatHistoryPayload](t, hist[0])
	require.Len(t, hp.Messages, 1)
	assert.Equal(t, "earlier", hp.Messages[0].Body)
}

func TestConcurrentJoinLeave_NoGhostRooms(t *testing.T) {
	o := newTestOrch()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := domain.RoomID([]string{"trip-a", "trip-b"}[i%2])
			sid, _ := connect(t, o, domain.UserID(string(rune('a'+i%26))+"-user"))
			for j := 0; j < 20; j++ {
				assert.NoError(t, o.Join(sid, room, "member"))
				if j%2 == 0 {
					assert.NoError(t, o.Leave(sid))
				}
			}
			o.OnDisconnect(sid)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, o.Stats().RoomCount)
	assert.Equal(t, 0, o.Rooms.Len())
	assert.Equal(t, 0, o.Registry.Count())
}

func TestJoin_SameRoomKeepsStateForSoleMember(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	require.NoError(t, o.Join(a, "trip-42", "Alice"))
	memo, err := o.MemoCreate(a, "trip-42", map[string]json.RawMessage{"type": json.RawMessage(`"pin"`)})
	require.NoError(t, err)
	room, ok := o.Rooms.Get("trip-42")
	require.True(t, ok)

	require.NoError(t, o.Join(a, "trip-42", "Alice"))

	again, ok := o.Rooms.Get("trip-42")
	require.True(t, ok)
	assert.Same(t, room, again)
	memos := again.MemosSnapshot()
	require.Len(t, memos, 1)
	assert.Equal(t, memo.ID, memos[0].ID)

	snaps := ca.ofType(core.EventRoomSnapshot)
	require.Len(t, snaps, 2)
	assert.Len(t, decode[core.SnapshotPayload](t, snaps[1]).Memos, 1)
}

func TestJoin_SameRoomIsSilentForOthers(t *testing.T) {
	o := newTestOrch()
	a, ca := connect(t, o, "user-a")
	b, cb := connect(t, o, "user-b")
	require.NoError(t, o.Join(a, "trip-42", "Alice"))
	require.NoError(t, o.Join(b, "trip-42", "Bob"))
	ca.reset()
	cb.reset()

	require.NoError(t, o.Join(b, "trip-42", "Bobby"))

	assert.Empty(t, ca.events)
	snaps := cb.ofType(core.EventRoomSnapshot)
	require.Len(t, snaps, 1)
	snap := decode[core.SnapshotPayload](t, snaps[0])
	require.Len(t, snap.Members, 2)
	assert.Equal(t, a, snap.Members[0].ConnectionID)
	assert.Equal(t, "Bobby", snap.Members[1].DisplayName)

	st := o.Stats()
	require.Len(t, st.PerRoom, 1)
	assert.Equal(t, []string{"Alice", "Bobby"}, st.PerRoom[0].MemberNames)
}
