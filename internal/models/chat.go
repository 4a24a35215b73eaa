package models

import (
	"time"
)

// Room pairs two accounts for direct messaging. The pair is stored normalized
// (UserLow < UserHigh lexicographically) so at most one room exists per pair.
type Room struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserLow   string    `gorm:"not null;type:uuid;uniqueIndex:idx_room_pair" json:"userLow"`
	UserHigh  string    `gorm:"not null;type:uuid;uniqueIndex:idx_room_pair" json:"userHigh"`
	CreatedAt time.Time `json:"createdAt"`
}

// Other returns the room participant that is not accountID.
func (r *Room) Other(accountID string) string {
	if r.UserLow == accountID {
		return r.UserHigh
	}
	return r.UserLow
}

// Has reports whether accountID participates in the room.
func (r *Room) Has(accountID string) bool {
	return r.UserLow == accountID || r.UserHigh == accountID
}

// Message is one chat message. Immutable after creation except for the read
// flag and a bounded edit window.
type Message struct {
	ID        string     `gorm:"primaryKey;type:uuid" json:"id"`
	RoomID    string     `gorm:"not null;type:uuid;index:idx_msg_room_ts" json:"roomId"`
	AuthorID  string     `gorm:"not null;type:uuid" json:"authorId"`
	Content   string     `gorm:"not null" json:"content"`
	Read      bool       `gorm:"default:false;index" json:"read"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `gorm:"index:idx_msg_room_ts" json:"createdAt"`
}
