package chathub_test

import (
	"blabberbox/backend/internal/chathub"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingToucher struct {
	mu    sync.Mutex
	beats map[string]int
	err   error
}

func (c *countingToucher) Touch(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.beats == nil {
		c.beats = make(map[string]int)
	}
	c.beats[userID]++
	return c.err
}

func (c *countingToucher) Beats(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beats[userID]
}

func TestPresenceReporter_BeatsImmediatelyAndPeriodically(t *testing.T) {
	toucher := &countingToucher{}
	p := chathub.NewPresenceReporter(toucher, 20*time.Millisecond)

	p.Start("user_A")
	defer p.Stop()

	assert.Eventually(t, func() bool { return toucher.Beats("user_A") >= 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return toucher.Beats("user_A") >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, p.Running())
}

func TestPresenceReporter_StartTwiceKeepsOneLoop(t *testing.T) {
	toucher := &countingToucher{}
	p := chathub.NewPresenceReporter(toucher, time.Hour)

	p.Start("user_A")
	p.Start("user_A")
	defer p.Stop()

	assert.Eventually(t, func() bool { return toucher.Beats("user_A") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, toucher.Beats("user_A"))
}

func TestPresenceReporter_StopHaltsBeats(t *testing.T) {
	toucher := &countingToucher{}
	p := chathub.NewPresenceReporter(toucher, 10*time.Millisecond)

	p.Start("user_A")
	assert.Eventually(t, func() bool { return toucher.Beats("user_A") >= 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())

	time.Sleep(20 * time.Millisecond)
	after := toucher.Beats("user_A")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, toucher.Beats("user_A"))
}

func TestPresenceReporter_FailuresDoNotStopLoop(t *testing.T) {
	toucher := &countingToucher{err: errors.New("offline")}
	p := chathub.NewPresenceReporter(toucher, 10*time.Millisecond)

	p.Start("user_A")
	defer p.Stop()

	assert.Eventually(t, func() bool { return toucher.Beats("user_A") >= 3 }, time.Second, 5*time.Millisecond)
}
