package storage

import (
	"blabberbox/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureUser створює запис користувача, якщо його ще немає.
// An existing record is left untouched.
func (s *Service) EnsureUser(ctx context.Context, userID, displayName string) error {
	user := models.User{
		ID:          userID,
		Status:      models.UserIdle,
		LastSeen:    s.now(),
		DisplayName: displayName,
	}
	result := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if result.Error != nil {
		log.Printf("ERROR: Failed to ensure user %s: %v", userID, result.Error)
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("INFO: New user %s saved to database.", userID)
		s.notify(ctx, userChannel(userID))
	}
	return nil
}

// GetUser returns nil without an error when the user does not exist.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUserStatus merges status, session and a fresh lastSeen into the user
// record, creating it when missing. Last writer wins.
func (s *Service) SetUserStatus(ctx context.Context, userID string, status models.UserStatus, sessionID *string) error {
	user := models.User{
		ID:               userID,
		Status:           status,
		CurrentSessionID: sessionID,
		LastSeen:         s.now(),
	}
	if err := user.Validate(); err != nil {
		return fmt.Errorf("set status for %s: %w", userID, err)
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "current_session_id", "last_seen"}),
	}).Create(&user).Error
	if err != nil {
		return err
	}
	s.notify(ctx, userChannel(userID))
	return nil
}

// Touch refreshes lastSeen only. It does not create missing users.
func (s *Service) Touch(ctx context.Context, userID string) error {
	result := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_seen", s.now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.notify(ctx, userChannel(userID))
	}
	return nil
}

// FindWaitingUsers returns the waiting pool, longest-waiting first, with the
// id as a deterministic tie-break. A zero freshSince disables the liveness
// filter; limit <= 0 means no limit.
func (s *Service) FindWaitingUsers(ctx context.Context, excludeID string, freshSince time.Time, limit int) ([]models.User, error) {
	q := s.DB.WithContext(ctx).Where("status = ?", models.UserWaiting)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	if !freshSince.IsZero() {
		q = q.Where("last_seen >= ?", freshSince)
	}
	q = q.Order("last_seen ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CreatePairing atomically creates a session for two waiting users and moves
// both of them to "chatting". If either user is missing or not waiting the
// transaction is rolled back and ErrPairingConflict is returned.
func (s *Service) CreatePairing(ctx context.Context, selfID, partnerID string) (string, error) {
	if selfID == partnerID {
		return "", ErrSelfPairing
	}
	ids := []string{selfID, partnerID}
	sort.Strings(ids)
	now := s.now()

	session := &models.Session{
		ParticipantIDs: pq.StringArray(ids),
		CreatedAt:      now,
		Status:         models.SessionActive,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Rows are locked in id order so concurrent pairings cannot deadlock.
		var users []models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id ASC").
			Find(&users).Error; err != nil {
			return err
		}
		if len(users) != 2 {
			return ErrPairingConflict
		}
		for _, u := range users {
			if u.Status != models.UserWaiting {
				return ErrPairingConflict
			}
		}

		if err := tx.Create(session).Error; err != nil {
			return err
		}

		result := tx.Model(&models.User{}).
			Where("id IN ? AND status = ?", ids, models.UserWaiting).
			Updates(map[string]interface{}{
				"status":             models.UserChatting,
				"current_session_id": session.ID,
				"last_seen":          now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 2 {
			return ErrPairingConflict
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	for _, id := range ids {
		s.notify(ctx, userChannel(id))
	}
	log.Printf("Match found: %s and %s in session %s", ids[0], ids[1], session.ID)
	return session.ID, nil
}

// GetSession returns nil without an error when the session does not exist.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.DB.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Printf("ERROR: Failed to get session %s: %v", sessionID, err)
		return nil, err
	}
	return &session, nil
}

// EndSession marks the session as ended. Only operator tooling calls it.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	result := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("status", models.SessionEnded)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendMessage stores a new message and copies it onto the session as the
// last-message summary, in one transaction.
func (s *Service) AppendMessage(ctx context.Context, sessionID, senderID, text string) (*models.Message, error) {
	msg := &models.Message{
		SessionID: sessionID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: s.now(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Where("id = ?", sessionID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if !session.HasParticipant(senderID) {
			return ErrNotParticipant
		}

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		return tx.Model(&models.Session{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"last_message_text":      text,
				"last_message_sender_id": senderID,
				"last_message_timestamp": msg.Timestamp,
			}).Error
	})
	if err != nil {
		log.Printf("ERROR: Failed to save message for session %s: %v", sessionID, err)
		return nil, err
	}

	s.notify(ctx, messagesChannel(sessionID))
	return msg, nil
}

// ListMessages returns the session's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		log.Printf("ERROR: Failed to list messages for session %s: %v", sessionID, err)
		return nil, err
	}
	return msgs, nil
}
