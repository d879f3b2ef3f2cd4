package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/storage"
	"github.com/rs/zerolog/log"
)

const archiveFlushTimeout = 5 * time.Second

type archiveRecord struct {
	chat *domain.ChatMessage
	room domain.RoomID
	op   domain.MemoOp
	memo *domain.Memo
}

// Archive mirrors chat and memo records to a durable store behind the broadcast path.
// Enqueueing never blocks; records are dropped when the queue is full.
type Archive struct {
	store   storage.Store
	queue   chan archiveRecord
	dropped atomic.Int64
	written atomic.Int64
}

func NewArchive(store storage.Store, size int) *Archive {
	if size <= 0 {
		size = 1024
	}
	return &Archive{store: store, queue: make(chan archiveRecord, size)}
}

func (a *Archive) Chat(msg domain.ChatMessage) {
	a.enqueue(archiveRecord{chat: &msg})
}

func (a *Archive) Memo(room domain.RoomID, op domain.MemoOp, memo domain.Memo) {
	a.enqueue(archiveRecord{room: room, op: op, memo: &memo})
}

func (a *Archive) enqueue(rec archiveRecord) {
	select {
	case a.queue <- rec:
	default:
		n := a.dropped.Add(1)
		log.Warn().Str("module", "app.archive").Int64("dropped", n).Msg("archive queue full, record dropped")
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (a *Archive) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-a.queue:
			a.write(ctx, rec)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), archiveFlushTimeout)
			defer cancel()
			for {
				select {
				case rec := <-a.queue:
					a.write(flushCtx, rec)
				default:
					log.Info().Str("module", "app.archive").Int64("written", a.written.Load()).Int64("dropped", a.dropped.Load()).Msg("archive stopped")
					return nil
				}
			}
		}
	}
}

func (a *Archive) write(ctx context.Context, rec archiveRecord) {
	var err error
	switch {
	case rec.chat != nil:
		err = a.store.AppendChat(ctx, *rec.chat)
	case rec.memo != nil:
		err = a.store.AppendMemo(ctx, rec.room, rec.op, *rec.memo)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "app.archive").Msg("archive write")
		return
	}
	a.written.Add(1)
}

func (a *Archive) Written() int64 { return a.written.Load() }
func (a *Archive) Dropped() int64 { return a.dropped.Load() }
