package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
)

type memoCreatePayload struct {
	RoomID domain.RoomID              `json:"roomId"`
	Memo   map[string]json.RawMessage `json:"memo"`
}

type memoUpdatePayload struct {
	RoomID  domain.RoomID              `json:"roomId"`
	MemoID  domain.MemoID              `json:"memoId"`
	Updates map[string]json.RawMessage `json:"updates"`
}

type memoDeletePayload struct {
	RoomID domain.RoomID `json:"roomId"`
	MemoID domain.MemoID `json:"memoId"`
}

func (ctl *SignalWSController) handleMemoCreate(sid core.SessionID, raw json.RawMessage) error {
	var p memoCreatePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.Memo == nil {
		return fmt.Errorf("%w: memo required", domain.ErrInvalid)
	}
	_, err := ctl.Orch.MemoCreate(sid, p.RoomID, p.Memo)
	return err
}

func (ctl *SignalWSController) handleMemoUpdate(sid core.SessionID, raw json.RawMessage) error {
	var p memoUpdatePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.MemoID == "" {
		return fmt.Errorf("%w: memoId required", domain.ErrInvalid)
	}
	_, err := ctl.Orch.MemoUpdate(sid, p.RoomID, p.MemoID, p.Updates)
	return err
}

func (ctl *SignalWSController) handleMemoDelete(sid core.SessionID, raw json.RawMessage) error {
	var p memoDeletePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.MemoID == "" {
		return fmt.Errorf("%w: memoId required", domain.ErrInvalid)
	}
	return ctl.Orch.MemoDelete(sid, p.RoomID, p.MemoID)
}
