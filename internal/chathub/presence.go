package chathub

import (
	"context"
	"log"
	"sync"
	"time"
)

// Toucher refreshes a user's liveness timestamp.
type Toucher interface {
	Touch(ctx context.Context, userID string) error
}

// PresenceReporter keeps lastSeen fresh while a user is searching or chatting.
// A missed beat is indistinguishable from a dead client; failures are only logged.
type PresenceReporter struct {
	Storage  Toucher
	Interval time.Duration

	mu     sync.Mutex
	userID string
	stop   chan struct{}
}

// NewPresenceReporter creates a stopped reporter.
func NewPresenceReporter(s Toucher, interval time.Duration) *PresenceReporter {
	return &PresenceReporter{Storage: s, Interval: interval}
}

// Start writes one heartbeat immediately and then one per interval.
// Calling Start again for the same user while running does nothing.
func (p *PresenceReporter) Start(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		if p.userID == userID {
			return
		}
		close(p.stop)
	}
	p.userID = userID
	p.stop = make(chan struct{})
	go p.run(userID, p.stop)
}

// Stop halts the heartbeat. It is safe to call when not running.
func (p *PresenceReporter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
	p.userID = ""
}

// Running reports whether a heartbeat loop is active.
func (p *PresenceReporter) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *PresenceReporter) run(userID string, stop <-chan struct{}) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.beat(userID)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			p.beat(userID)
		}
	}
}

func (p *PresenceReporter) beat(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.Interval)
	defer cancel()
	if err := p.Storage.Touch(ctx, userID); err != nil {
		log.Printf("WARNING: Heartbeat for %s failed: %v", userID, err)
	}
}
