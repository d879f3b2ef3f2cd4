// Package storage defines the optional durable mirror for room chat and memo activity.
package storage

import (
	"context"

	"github.com/dkeye/tripsync/internal/domain"
)

// Store defines persistence operations used by the broker.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	AppendChat(ctx context.Context, msg domain.ChatMessage) error
	AppendMemo(ctx context.Context, room domain.RoomID, op domain.MemoOp, memo domain.Memo) error
	// ChatHistory returns up to limit most recent messages of room, oldest first.
	ChatHistory(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error)
}
