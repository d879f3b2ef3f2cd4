package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxChatLen = 4000

// ChatMessage is broadcast through a room but never kept in room state.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	UserID    UserID    `json:"userId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"ts"`
}

func NewChatMessage(room RoomID, author User, body string, now time.Time) (ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	if len(body) > MaxChatLen {
		return ChatMessage{}, ErrMessageTooLong
	}
	return ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    room,
		UserID:    author.ID,
		Author:    author.Username,
		Body:      body,
		Timestamp: now,
	}, nil
}
