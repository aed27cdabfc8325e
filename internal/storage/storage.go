package storage

import (
	"blabberbox/backend/internal/models"
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	// ErrPairingConflict means a pairing transaction lost a race: one of the
	// users was no longer waiting when the transaction ran.
	ErrPairingConflict = errors.New("pairing conflict: user no longer waiting")
	// ErrNotParticipant is returned when a sender is not part of the session.
	ErrNotParticipant  = errors.New("sender is not a session participant")
	ErrSessionNotFound = errors.New("session not found")
	ErrSelfPairing     = errors.New("cannot pair a user with themselves")
	// ErrNoNotifier is returned by subscriptions when Redis is not configured.
	ErrNoNotifier = errors.New("change notifications require redis")
)

// Storage is the document store contract used by the chat hub.
// Absent documents are reported as (nil, nil), not as errors.
type Storage interface {
	EnsureUser(ctx context.Context, userID, displayName string) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetUserStatus(ctx context.Context, userID string, status models.UserStatus, sessionID *string) error
	Touch(ctx context.Context, userID string) error
	FindWaitingUsers(ctx context.Context, excludeID string, freshSince time.Time, limit int) ([]models.User, error)

	CreatePairing(ctx context.Context, selfID, partnerID string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	EndSession(ctx context.Context, sessionID string) error

	AppendMessage(ctx context.Context, sessionID, senderID, text string) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)

	SubscribeUser(ctx context.Context, userID string, fn func(*models.User)) (Subscription, error)
	SubscribeMessages(ctx context.Context, sessionID string, fn func([]models.Message)) (Subscription, error)
}

// Service implements Storage on top of GORM (documents, transactions) and
// Redis pub/sub (change notifications).
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	// Clock assigns store-side timestamps.
	Clock func() time.Time
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Clock: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate створює таблиці для всіх моделей.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.User{}, &models.Session{}, &models.Message{})
}

// Ping checks both backends; Redis is skipped when not configured.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	if s.Redis != nil {
		return s.Redis.Ping(ctx).Err()
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.Clock()
}
