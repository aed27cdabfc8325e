package chathub

import (
	"blabberbox/backend/internal/models"
	"blabberbox/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// MatchOutcome is the result kind of one FindPartner call.
type MatchOutcome int

const (
	// MatchStillWaiting: the pool was empty; the user stays waiting and can be
	// paired passively by a later arrival.
	MatchStillWaiting MatchOutcome = iota
	MatchPaired
	// MatchRaced: every pairing attempt lost a race. Routine, not an error.
	MatchRaced
	// MatchFailed: a store fault.
	MatchFailed
)

func (o MatchOutcome) String() string {
	switch o {
	case MatchStillWaiting:
		return "still_waiting"
	case MatchPaired:
		return "paired"
	case MatchRaced:
		return "raced"
	case MatchFailed:
		return "failed"
	}
	return fmt.Sprintf("MatchOutcome(%d)", int(o))
}

// MatchResult carries the outcome. SessionID is set for MatchPaired, and for
// MatchRaced when the user was meanwhile paired by somebody else.
type MatchResult struct {
	Outcome   MatchOutcome
	SessionID string
	Err       error
}

// MatcherService відповідає за алгоритм пошуку співрозмовників.
// It keeps no queue of its own: the waiting pool lives in the store.
type MatcherService struct {
	Storage     storage.Storage
	MaxAttempts int
	// Freshness limits candidates to users seen within this window; 0 disables it.
	Freshness time.Duration
	Now       func() time.Time
}

// NewMatcherService створює новий Matcher.
func NewMatcherService(s storage.Storage, opts Options) *MatcherService {
	opts = opts.withDefaults()
	return &MatcherService{
		Storage:     s,
		MaxAttempts: opts.MaxPairAttempts,
		Freshness:   opts.MatchFreshness,
		Now:         opts.Now,
	}
}

// FindPartner marks selfID as waiting, picks the longest-waiting candidate and
// tries to pair both users in one transaction.
func (m *MatcherService) FindPartner(ctx context.Context, selfID string) MatchResult {
	// Not transactional: a race here only double-counts the user briefly.
	if err := m.Storage.SetUserStatus(ctx, selfID, models.UserWaiting, nil); err != nil {
		return failed(fmt.Errorf("mark %s waiting: %w", selfID, err))
	}

	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		var freshSince time.Time
		if m.Freshness > 0 {
			freshSince = m.Now().Add(-m.Freshness)
		}

		candidates, err := m.Storage.FindWaitingUsers(ctx, selfID, freshSince, 1)
		if err != nil {
			return failed(fmt.Errorf("scan waiting pool: %w", err))
		}
		if len(candidates) == 0 {
			return MatchResult{Outcome: MatchStillWaiting}
		}
		candidateID := candidates[0].ID

		sessionID, err := m.Storage.CreatePairing(ctx, selfID, candidateID)
		if err == nil {
			return MatchResult{Outcome: MatchPaired, SessionID: sessionID}
		}
		if !errors.Is(err, storage.ErrPairingConflict) {
			return failed(fmt.Errorf("pair %s with %s: %w", selfID, candidateID, err))
		}
		log.Printf("Pairing %s with %s lost a race (attempt %d/%d)", selfID, candidateID, attempt, attempts)

		self, err := m.Storage.GetUser(ctx, selfID)
		if err != nil {
			return failed(fmt.Errorf("reload %s: %w", selfID, err))
		}
		if self == nil || self.Status != models.UserWaiting {
			// Somebody else's scan paired us first.
			return MatchResult{Outcome: MatchRaced, SessionID: self.SessionID(), Err: ErrPairingRace}
		}
	}

	return MatchResult{Outcome: MatchRaced, Err: ErrPairingRace}
}

func failed(err error) MatchResult {
	return MatchResult{Outcome: MatchFailed, Err: fmt.Errorf("%w: %v", ErrTransientStore, err)}
}
