package chathub

import (
	"blabberbox/backend/internal/models"
	"time"
)

// PartnerLost reports whether the partner should be considered gone from the
// session: record absent, not chatting, chatting elsewhere, or silent for
// longer than threshold.
func PartnerLost(partner *models.User, sessionID string, now time.Time, threshold time.Duration) bool {
	if partner == nil {
		return true
	}
	if partner.Status != models.UserChatting || partner.SessionID() != sessionID {
		return true
	}
	return now.Sub(partner.LastSeen) > threshold
}

// partnerLeft distinguishes an explicit leave from a silent timeout.
func partnerLeft(partner *models.User, sessionID string) bool {
	return partner == nil || partner.Status != models.UserChatting || partner.SessionID() != sessionID
}
