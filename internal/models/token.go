package models

import (
	"time"
)

// RefreshToken is the durable record behind a refresh credential. A refresh
// token is only honored while its record exists; logout deletes it.
type RefreshToken struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID string    `gorm:"not null;type:uuid;index" json:"accountId"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the record's lifetime has elapsed.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
