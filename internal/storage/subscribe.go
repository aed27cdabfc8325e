package storage

import (
	"blabberbox/backend/internal/models"
	"context"
	"errors"
	"log"
	"sync"
)

const channelPrefix = "blabberbox:"

func userChannel(userID string) string {
	return channelPrefix + "user:" + userID
}

func messagesChannel(sessionID string) string {
	return channelPrefix + "session:" + sessionID + ":messages"
}

// Subscription is a cancellable change feed. Close does not wait for an
// in-flight callback to return, so callbacks may still fire once after it.
type Subscription interface {
	Close() error
}

type redisSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
	closer func() error
	err    error
}

func (r *redisSubscription) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.err = r.closer()
	})
	return r.err
}

// notify публікує подію зміни документа. Readers reload the document, so the
// payload carries no data and a lost publish is only a delayed update.
func (s *Service) notify(ctx context.Context, channel string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Publish(context.WithoutCancel(ctx), channel, "changed").Err(); err != nil {
		log.Printf("WARNING: Failed to publish change on %s: %v", channel, err)
	}
}

// subscribe delivers an initial snapshot and then one snapshot per change
// notification. Bursts of notifications are coalesced into a single reload.
func (s *Service) subscribe(ctx context.Context, channel string, load func(ctx context.Context)) (Subscription, error) {
	if s.Redis == nil {
		return nil, ErrNoNotifier
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := s.Redis.Subscribe(subCtx, channel)
	// Wait for the confirmation so that no change after the initial snapshot is missed.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	ch := pubsub.Channel()
	go func() {
		load(subCtx)
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case _, ok := <-ch:
						if !ok {
							return
						}
					default:
						break drain
					}
				}
				load(subCtx)
			}
		}
	}()

	return &redisSubscription{cancel: cancel, closer: pubsub.Close}, nil
}

// SubscribeUser calls fn with the current user record (nil when absent) and
// again after every change.
func (s *Service) SubscribeUser(ctx context.Context, userID string, fn func(*models.User)) (Subscription, error) {
	return s.subscribe(ctx, userChannel(userID), func(ctx context.Context) {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("ERROR: Failed to reload user %s: %v", userID, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		fn(user)
	})
}

// SubscribeMessages calls fn with the full ordered message list on every change.
func (s *Service) SubscribeMessages(ctx context.Context, sessionID string, fn func([]models.Message)) (Subscription, error) {
	return s.subscribe(ctx, messagesChannel(sessionID), func(ctx context.Context) {
		msgs, err := s.ListMessages(ctx, sessionID)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		fn(msgs)
	})
}
