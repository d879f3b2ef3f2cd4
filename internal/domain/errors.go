package domain

import "errors"

// Protocol-level failures. None of them is fatal to a connection.
var (
	ErrNotInRoom     = errors.New("not in room")
	ErrUnknownTarget = errors.New("unknown target")
	ErrNotFound      = errors.New("not found")
	ErrInvalid       = errors.New("invalid")
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")
	ErrEmptyMessage    = errors.New("empty message")
	ErrMessageTooLong  = errors.New("message too long")
)
