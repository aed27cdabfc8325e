// Package events publishes session lifecycle events to RabbitMQ for
// downstream consumers. Publishing is best-effort.
package events

import (
	"blabberbox/backend/internal/models"
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
}

// Message is the wire format of one lifecycle event.
type Message struct {
	Type      models.LifecycleType `json:"type"`
	UserID    string               `json:"user_id"`
	SessionID string               `json:"session_id,omitempty"`
	At        int64                `json:"at"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	// Events are analytics only: nothing dead-letters or retries them.
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Encode builds the AMQP message for ev.
func Encode(ev models.LifecycleEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(Message{
		Type:      ev.Type,
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		At:        ev.At,
	})
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(ev.Type),
		Body:         body,
		Timestamp:    time.Unix(ev.At, 0).UTC(),
	}, nil
}

// Publish implements chathub.EventPublisher.
func (p *Publisher) Publish(ev models.LifecycleEvent) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		msg,
	)
}
