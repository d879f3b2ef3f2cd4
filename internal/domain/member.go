package domain

import "time"

// Member represents user's participation meta for a room.
// It is a copy taken at join time, so rooms never share it with the registry.
type Member struct {
	UserID      UserID
	DisplayName string
	JoinedAt    time.Time
}

func NewMember(user User, now time.Time) Member {
	return Member{UserID: user.ID, DisplayName: user.Username, JoinedAt: now}
}
