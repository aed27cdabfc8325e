package chathub

import (
	"blabberbox/backend/internal/storage"
	"context"
	"log"
	"sync"
)

// ManagerService tracks the live controller of every attached user. One
// process can serve many frontends; each user has at most one controller.
type ManagerService struct {
	Storage   storage.Storage
	Options   Options
	Publisher EventPublisher

	mu          sync.Mutex
	Controllers map[string]*Controller
}

// NewManagerService (ініціалізація реєстру контролерів)
func NewManagerService(s storage.Storage, opts Options) *ManagerService {
	return &ManagerService{
		Storage:     s,
		Options:     opts.withDefaults(),
		Controllers: make(map[string]*Controller),
	}
}

// Attach starts a controller for the client's user. An existing controller
// for the same user is closed first, together with its client, so the newest
// connection wins.
func (m *ManagerService) Attach(ctx context.Context, displayName string, pointer PointerStore, client Client) (*Controller, error) {
	userID := client.GetUserID()

	m.mu.Lock()
	old := m.Controllers[userID]
	delete(m.Controllers, userID)
	m.mu.Unlock()
	if old != nil {
		log.Printf("Replacing controller for %s", userID)
		old.Close()
		if old.client != nil && old.client != client {
			old.client.Close()
		}
	}

	c := NewController(userID, m.Storage, pointer, client, m.Options)
	c.DisplayName = displayName
	c.Publisher = m.Publisher
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Controllers[userID] = c
	m.mu.Unlock()
	log.Printf("Controller attached for %s. Total: %d", userID, m.Count())
	return c, nil
}

// Detach closes the controller. It is a no-op if c was already replaced.
func (m *ManagerService) Detach(c *Controller) {
	m.mu.Lock()
	if cur, ok := m.Controllers[c.UserID]; ok && cur == c {
		delete(m.Controllers, c.UserID)
	}
	m.mu.Unlock()
	c.Close()
}

// Get returns the controller attached for userID.
func (m *ManagerService) Get(userID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Controllers[userID]
	return c, ok
}

func (m *ManagerService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Controllers)
}

// Shutdown closes every controller. Each one attempts its leave write.
func (m *ManagerService) Shutdown() {
	m.mu.Lock()
	all := make([]*Controller, 0, len(m.Controllers))
	for _, c := range m.Controllers {
		all = append(all, c)
	}
	m.Controllers = make(map[string]*Controller)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
	log.Printf("Hub shut down, closed %d controllers", len(all))
}
