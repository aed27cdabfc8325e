package chathub

import (
	"blabberbox/backend/internal/storage"
	"context"
	"fmt"
	"log"
)

// PointerStore persists the last known session id of one client instance.
// Load returns "" when nothing is stored.
type PointerStore interface {
	Load() (string, error)
	Save(sessionID string) error
	Clear() error
}

// ResumeResult is a validated session to fast-forward into.
type ResumeResult struct {
	SessionID string
	PartnerID string
}

// ResumeSession validates the persisted session pointer against the store.
// It returns (nil, nil) when there is nothing to resume. Any failed check
// clears the pointer and returns a nil result with the reason.
func ResumeSession(ctx context.Context, s storage.Storage, pointer PointerStore, userID string) (*ResumeResult, error) {
	if pointer == nil {
		return nil, nil
	}

	sessionID, err := pointer.Load()
	if err != nil {
		discardPointer(pointer, userID)
		return nil, fmt.Errorf("load session pointer: %w", err)
	}
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		discardPointer(pointer, userID)
		return nil, fmt.Errorf("%w: load session %s: %v", ErrTransientStore, sessionID, err)
	}
	if !session.Joinable(userID) {
		discardPointer(pointer, userID)
		return nil, fmt.Errorf("%w: %s", ErrInvalidResumedSession, sessionID)
	}

	partnerID, _ := session.PartnerOf(userID)
	return &ResumeResult{SessionID: sessionID, PartnerID: partnerID}, nil
}

func discardPointer(pointer PointerStore, userID string) {
	if err := pointer.Clear(); err != nil {
		log.Printf("WARNING: Failed to clear session pointer for %s: %v", userID, err)
	}
}
