package models

import (
	"time"
)

// Role is the closed set of client roles that may hold a gateway session.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
	RoleFounder Role = "founder"
)

// AllRoles lists every known role, in no particular order.
var AllRoles = []Role{RoleAdmin, RoleTeacher, RoleParent, RoleStudent, RoleFounder}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleParent, RoleStudent, RoleFounder:
		return true
	}
	return false
}

// Identity is the stable account identifier plus its role tag. It is owned by
// the account-management side; the gateway never mutates it.
type Identity struct {
	AccountID string `json:"accountId"`
	Role      Role   `json:"role"`
}

// Account is the persisted user record backing an Identity.
type Account struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	DisplayName  string    `json:"displayName"`
	Role         Role      `gorm:"not null;index" json:"role"`
	IsActive     bool      `gorm:"default:true" json:"isActive"`
	LastLogin    time.Time `json:"lastLogin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity returns the account's gateway identity.
func (a *Account) Identity() Identity {
	return Identity{AccountID: a.ID, Role: a.Role}
}
