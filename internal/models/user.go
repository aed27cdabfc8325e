package models

import (
	"errors"
	"time"
)

// UserStatus is the matchmaking status stored on the user record.
type UserStatus string

const (
	UserIdle     UserStatus = "idle"
	UserWaiting  UserStatus = "waiting"
	UserChatting UserStatus = "chatting"
)

var (
	ErrChattingWithoutSession = errors.New("chatting user has no current session")
	ErrIdleWithSession        = errors.New("idle user still references a session")
	ErrUnknownUserStatus      = errors.New("unknown user status")
)

// User представляє анонімного користувача в пулі пошуку.
// The ID is generated by the client and stays the same across sessions.
type User struct {
	ID               string     `gorm:"primaryKey" json:"id"`
	Status           UserStatus `gorm:"type:text;not null;default:idle;index:idx_users_pool,priority:1" json:"status"`
	CurrentSessionID *string    `gorm:"type:text" json:"current_session_id"`
	// LastSeen is assigned by the store on every write to the record.
	LastSeen    time.Time `gorm:"index:idx_users_pool,priority:2" json:"last_seen"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Validate checks the status/session invariants of the record.
func (u *User) Validate() error {
	switch u.Status {
	case UserChatting:
		if u.CurrentSessionID == nil || *u.CurrentSessionID == "" {
			return ErrChattingWithoutSession
		}
	case UserIdle:
		if u.CurrentSessionID != nil {
			return ErrIdleWithSession
		}
	case UserWaiting:
	default:
		return ErrUnknownUserStatus
	}
	return nil
}

// SessionID returns the current session id or "" when there is none.
func (u *User) SessionID() string {
	if u == nil || u.CurrentSessionID == nil {
		return ""
	}
	return *u.CurrentSessionID
}

// Name returns the display name, falling back to the given default.
func (u *User) Name(fallback string) string {
	if u == nil || u.DisplayName == "" {
		return fallback
	}
	return u.DisplayName
}
