package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dkeye/tripsync/internal/domain"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type chatModel struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"index:idx_chat_room_ts,priority:1"`
	UserID    string
	Author    string
	Body      string
	Timestamp time.Time `gorm:"index:idx_chat_room_ts,priority:2"`
}

func (chatModel) TableName() string { return "chat_messages" }

// memoEventModel is an append-only log of memo mutations.
type memoEventModel struct {
	Seq       uint   `gorm:"primaryKey;autoIncrement"`
	RoomID    string `gorm:"index"`
	MemoID    string `gorm:"index"`
	Op        string
	Rev       uint64
	Author    string
	Body      []byte
	CreatedAt time.Time
}

func (memoEventModel) TableName() string { return "memo_events" }

// NewStore opens a SQLite database at the provided path.
func NewStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	log.Info().Str("module", "storage.sqlite").Str("path", path).Msg("store opened")
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&chatModel{}, &memoEventModel{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) AppendChat(ctx context.Context, msg domain.ChatMessage) error {
	model := chatModel{
		ID:        msg.ID,
		RoomID:    string(msg.RoomID),
		UserID:    string(msg.UserID),
		Author:    msg.Author,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *Store) AppendMemo(ctx context.Context, room domain.RoomID, op domain.MemoOp, memo domain.Memo) error {
	body, err := json.Marshal(memo)
	if err != nil {
		return fmt.Errorf("encode memo %s: %w", memo.ID, err)
	}
	model := memoEventModel{
		RoomID:    string(room),
		MemoID:    string(memo.ID),
		Op:        string(op),
		Rev:       memo.Rev,
		Author:    memo.CreatedBy,
		Body:      body,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *Store) ChatHistory(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var models []chatModel
	err := s.db.WithContext(ctx).
		Where("room_id = ?", string(room)).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		out = append(out, domain.ChatMessage{
			ID:        m.ID,
			RoomID:    domain.RoomID(m.RoomID),
			UserID:    domain.UserID(m.UserID),
			Author:    m.Author,
			Body:      m.Body,
			Timestamp: m.Timestamp,
		})
	}
	slices.Reverse(out)
	return out, nil
}
