package chathub_test

import (
	"blabberbox/backend/internal/models"
	"blabberbox/backend/internal/storage"
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

func (m *MockStorage) EnsureUser(ctx context.Context, userID, displayName string) error {
	args := m.Called(ctx, userID, displayName)
	return args.Error(0)
}

func (m *MockStorage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) SetUserStatus(ctx context.Context, userID string, status models.UserStatus, sessionID *string) error {
	args := m.Called(ctx, userID, status, sessionID)
	return args.Error(0)
}

func (m *MockStorage) Touch(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockStorage) FindWaitingUsers(ctx context.Context, excludeID string, freshSince time.Time, limit int) ([]models.User, error) {
	args := m.Called(ctx, excludeID, freshSince, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockStorage) CreatePairing(ctx context.Context, selfID, partnerID string) (string, error) {
	args := m.Called(ctx, selfID, partnerID)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockStorage) EndSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockStorage) AppendMessage(ctx context.Context, sessionID, senderID, text string) (*models.Message, error) {
	args := m.Called(ctx, sessionID, senderID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) SubscribeUser(ctx context.Context, userID string, fn func(*models.User)) (storage.Subscription, error) {
	args := m.Called(ctx, userID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Subscription), args.Error(1)
}

func (m *MockStorage) SubscribeMessages(ctx context.Context, sessionID string, fn func([]models.Message)) (storage.Subscription, error) {
	args := m.Called(ctx, sessionID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Subscription), args.Error(1)
}

// faultyStore wraps a real store. It can fail the waiting-pool scan and run
// a hook right before a user is written back to idle.
type faultyStore struct {
	storage.Storage

	mu         sync.Mutex
	scanErr    error
	beforeIdle func(userID string)
}

func (s *faultyStore) failScans(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanErr = err
}

func (s *faultyStore) onIdle(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeIdle = fn
}

func (s *faultyStore) FindWaitingUsers(ctx context.Context, excludeID string, freshSince time.Time, limit int) ([]models.User, error) {
	s.mu.Lock()
	err := s.scanErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Storage.FindWaitingUsers(ctx, excludeID, freshSince, limit)
}

func (s *faultyStore) SetUserStatus(ctx context.Context, userID string, status models.UserStatus, sessionID *string) error {
	s.mu.Lock()
	hook := s.beforeIdle
	s.mu.Unlock()
	if hook != nil && status == models.UserIdle {
		hook(userID)
	}
	return s.Storage.SetUserStatus(ctx, userID, status, sessionID)
}

// recordingClient collects every event a controller emits.
type recordingClient struct {
	userID string
	send   chan models.Event
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	events []models.Event
}

func newRecordingClient(userID string) *recordingClient {
	c := &recordingClient{
		userID: userID,
		send:   make(chan models.Event, 64),
		done:   make(chan struct{}),
	}
	c.Run()
	return c
}

func (c *recordingClient) GetUserID() string                     { return c.userID }
func (c *recordingClient) GetSendChannel() chan<- models.Event { return c.send }

func (c *recordingClient) Run() {
	go func() {
		defer close(c.done)
		for ev := range c.send {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
	}()
}

// Closed reports whether the client's pump has stopped.
func (c *recordingClient) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *recordingClient) Close() {
	c.once.Do(func() { close(c.send) })
	<-c.done
}

func (c *recordingClient) Notices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		if ev.Type == models.EventNotice {
			out = append(out, ev.Notice)
		}
	}
	return out
}

func (c *recordingClient) CountNotice(key string) int {
	n := 0
	for _, notice := range c.Notices() {
		if notice == key {
			n++
		}
	}
	return n
}

// memPointer is an in-memory PointerStore.
type memPointer struct {
	mu        sync.Mutex
	sessionID string
	loadErr   error
}

func (p *memPointer) Load() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID, p.loadErr
}

func (p *memPointer) Save(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	return nil
}

func (p *memPointer) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = ""
	return nil
}

func (p *memPointer) Get() string {
	s, _ := p.Load()
	return s
}

// recordingPublisher collects lifecycle events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (p *recordingPublisher) Publish(ev models.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Count(t models.LifecycleType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
