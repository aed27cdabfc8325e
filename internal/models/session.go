package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SessionStatus is advisory: nothing in the pairing flow depends on "ended".
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session represents a 1-on-1 chat between exactly two users.
// It is created in the same transaction that moves both users to "chatting".
type Session struct {
	// ID is the store-generated identifier (UUID).
	ID string `gorm:"primaryKey" json:"id"`
	// ParticipantIDs holds both user ids, sorted.
	ParticipantIDs pq.StringArray `gorm:"type:text[];not null" json:"participant_ids"`
	// CreatedAt is assigned by the store.
	CreatedAt time.Time     `json:"created_at"`
	Status    SessionStatus `gorm:"type:text;not null;default:active" json:"status"`
	// LastMessage is a denormalized summary of the newest message.
	LastMessage MessageSummary `gorm:"embedded;embeddedPrefix:last_message_" json:"last_message"`
}

// MessageSummary is the copy of the last message kept on the session row.
type MessageSummary struct {
	Text      string     `json:"text,omitempty"`
	SenderID  string     `json:"sender_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// BeforeCreate генерує UUID для сесії, якщо ID ще не встановлено.
func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

// HasParticipant reports whether userID takes part in the session.
func (s *Session) HasParticipant(userID string) bool {
	for _, id := range s.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PartnerOf returns the other participant. ok is false when userID is not a
// participant or the session does not hold two distinct users.
func (s *Session) PartnerOf(userID string) (partnerID string, ok bool) {
	if len(s.ParticipantIDs) != 2 || s.ParticipantIDs[0] == s.ParticipantIDs[1] {
		return "", false
	}
	switch userID {
	case s.ParticipantIDs[0]:
		return s.ParticipantIDs[1], true
	case s.ParticipantIDs[1]:
		return s.ParticipantIDs[0], true
	}
	return "", false
}

// Joinable reports whether userID may enter (or resume) this session.
func (s *Session) Joinable(userID string) bool {
	if s == nil || s.Status != SessionActive {
		return false
	}
	_, ok := s.PartnerOf(userID)
	return ok
}
