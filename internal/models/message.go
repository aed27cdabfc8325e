package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Message is one chat line inside a session. Messages are append-only.
type Message struct {
	// ID is a ULID assigned on insert; it sorts in arrival order and breaks
	// ties between equal timestamps.
	ID        string `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"type:text;not null;index:idx_session_ts,priority:1" json:"session_id"`
	SenderID  string `gorm:"type:text;not null" json:"sender_id"`
	Text      string `gorm:"type:text;not null" json:"text"`
	// Timestamp is assigned by the store.
	Timestamp time.Time `gorm:"not null;index:idx_session_ts,priority:2" json:"timestamp"`
}

// BeforeCreate assigns a monotonic ULID.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	return
}

// Less orders messages by timestamp, then by arrival.
func (m Message) Less(other Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}
