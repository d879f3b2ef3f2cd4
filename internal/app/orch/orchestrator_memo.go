package orch

import (
	"encoding/json"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
)

// MemoCreate appends a memo and broadcasts it to every member, sender included.
func (o *Orchestrator) MemoCreate(sid core.SessionID, roomID domain.RoomID, fields map[string]json.RawMessage) (domain.Memo, error) {
	room, ci, err := o.roomFor(sid, roomID)
	if err != nil {
		return domain.Memo{}, err
	}
	memo := domain.NewMemo(ci.User.Username, fields, o.now())
	var created domain.Memo
	res, err := room.AppendMemo(sid, memo, func(v core.RoomView, m domain.Memo) {
		created = m
		v.Fanout(sid, core.Encode(core.EventMemoCreated, m), true)
	})
	if err != nil {
		return domain.Memo{}, err
	}
	o.handleDropped(roomID, res)
	o.archiveMemo(roomID, domain.MemoCreated, created)
	return created, nil
}

// MemoUpdate patches a memo. An unknown id yields ErrNotFound and no broadcast.
func (o *Orchestrator) MemoUpdate(sid core.SessionID, roomID domain.RoomID, id domain.MemoID, patch map[string]json.RawMessage) (domain.Memo, error) {
	room, _, err := o.roomFor(sid, roomID)
	if err != nil {
		return domain.Memo{}, err
	}
	var updated domain.Memo
	res, err := room.UpdateMemo(sid, id, patch, func(v core.RoomView, m domain.Memo) {
		updated = m
		v.Fanout(sid, core.Encode(core.EventMemoUpdated, core.MemoUpdatedPayload{MemoID: id, Memo: m}), true)
	})
	if err != nil {
		return domain.Memo{}, err
	}
	o.handleDropped(roomID, res)
	o.archiveMemo(roomID, domain.MemoUpdated, updated)
	return updated, nil
}

// MemoDelete removes a memo. An unknown id yields ErrNotFound and no broadcast.
func (o *Orchestrator) MemoDelete(sid core.SessionID, roomID domain.RoomID, id domain.MemoID) error {
	room, _, err := o.roomFor(sid, roomID)
	if err != nil {
		return err
	}
	res, err := room.RemoveMemo(sid, id, func(v core.RoomView) {
		v.Fanout(sid, core.Encode(core.EventMemoDeleted, core.MemoDeletedPayload{MemoID: id}), true)
	})
	if err != nil {
		return err
	}
	o.handleDropped(roomID, res)
	o.archiveMemo(roomID, domain.MemoDeleted, domain.Memo{ID: id})
	return nil
}

func (o *Orchestrator) archiveMemo(roomID domain.RoomID, op domain.MemoOp, m domain.Memo) {
	if o.Archive != nil {
		o.Archive.Memo(roomID, op, m)
	}
}
