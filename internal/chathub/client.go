package chathub

import "blabberbox/backend/internal/models"

// Client is the interface for any frontend attached to a controller (e.g.,
// WebSocket, Telegram, terminal). The controller reports its state through
// the client's send channel; the client turns user input into commands.
type Client interface {
	// GetUserID returns the anonymous user id the client acts for.
	GetUserID() string

	// GetSendChannel returns the channel the controller writes events to.
	GetSendChannel() chan<- models.Event

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down. It must be called only after the
	// controller feeding the client has been closed.
	Close()
}

// EventPublisher receives lifecycle events for downstream consumers.
type EventPublisher interface {
	Publish(ev models.LifecycleEvent) error
}
