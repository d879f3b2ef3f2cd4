// Package domain holds the broker entities and their validation:
// users, rooms, chat messages and memos.
package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

type UserID string

type User struct {
	ID       UserID `json:"userId"`
	Username string `json:"displayName"`
}

func (u *User) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

func ValidateUserID(id UserID) error {
	if id == "" {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// TruncateUsername cuts name to at most MaxUsernameLen bytes without
// splitting a rune.
func TruncateUsername(name string) string {
	if len(name) <= MaxUsernameLen {
		return name
	}
	cut := MaxUsernameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
