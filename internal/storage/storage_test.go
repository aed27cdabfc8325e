package storage_test

import (
	"blabberbox/backend/internal/models"
	"blabberbox/backend/internal/storage"
	"blabberbox/backend/internal/storage/storagetest"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setWaiting(t *testing.T, s *storage.Service, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.SetUserStatus(context.Background(), id, models.UserWaiting, nil))
	}
}

func TestEnsureUser_DoesNotOverwrite(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, "user_A", "Alice"))
	setWaiting(t, s, "user_A")
	require.NoError(t, s.EnsureUser(ctx, "user_A", "Other"))

	user, err := s.GetUser(ctx, "user_A")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, models.UserWaiting, user.Status)
	assert.Equal(t, "Alice", user.DisplayName)
}

func TestGetUser_Absent(t *testing.T) {
	s, _ := storagetest.NewService(t)

	user, err := s.GetUser(context.Background(), "missing")

	assert.NoError(t, err)
	assert.Nil(t, user)
}

func TestSetUserStatus_RejectsBrokenInvariant(t *testing.T) {
	s, _ := storagetest.NewService(t)

	err := s.SetUserStatus(context.Background(), "user_A", models.UserChatting, nil)

	assert.ErrorIs(t, err, models.ErrChattingWithoutSession)
}

func TestTouch_UpdatesLastSeenOnly(t *testing.T) {
	s, _ := storagetest.NewService(t)
	clock := storagetest.NewClock()
	s.Clock = clock.Now
	ctx := context.Background()

	setWaiting(t, s, "user_A")
	clock.Advance(10 * time.Second)
	require.NoError(t, s.Touch(ctx, "user_A"))
	require.NoError(t, s.Touch(ctx, "ghost"), "touching a missing user is a no-op")

	user, err := s.GetUser(ctx, "user_A")
	require.NoError(t, err)
	assert.Equal(t, models.UserWaiting, user.Status)
	assert.True(t, user.LastSeen.Equal(clock.Now()))

	ghost, err := s.GetUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost)
}

func TestFindWaitingUsers_LongestWaitingFirst(t *testing.T) {
	s, _ := storagetest.NewService(t)
	clock := storagetest.NewClock()
	s.Clock = clock.Now
	ctx := context.Background()

	setWaiting(t, s, "user_C")
	clock.Advance(time.Second)
	setWaiting(t, s, "user_B", "user_A") // same timestamp: id breaks the tie
	clock.Advance(time.Second)
	require.NoError(t, s.SetUserStatus(ctx, "user_D", models.UserIdle, nil))

	users, err := s.FindWaitingUsers(ctx, "", time.Time{}, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"user_C", "user_A", "user_B"}, ids)

	users, err = s.FindWaitingUsers(ctx, "user_C", time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user_A", users[0].ID, "self is excluded")
}

func TestFindWaitingUsers_FreshnessFilter(t *testing.T) {
	s, _ := storagetest.NewService(t)
	clock := storagetest.NewClock()
	s.Clock = clock.Now
	ctx := context.Background()

	setWaiting(t, s, "stale")
	clock.Advance(time.Minute)
	setWaiting(t, s, "fresh")

	users, err := s.FindWaitingUsers(ctx, "", clock.Now().Add(-30*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "fresh", users[0].ID)
}

func TestCreatePairing_Success(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()
	setWaiting(t, s, "user_B", "user_A")

	sessionID, err := s.CreatePairing(ctx, "user_B", "user_A")
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	session, err := s.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, []string{"user_A", "user_B"}, []string(session.ParticipantIDs), "participants are stored sorted")
	assert.Equal(t, models.SessionActive, session.Status)

	for _, id := range []string{"user_A", "user_B"} {
		user, err := s.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.UserChatting, user.Status)
		assert.Equal(t, sessionID, user.SessionID())
		assert.NoError(t, user.Validate())
	}
}

func TestCreatePairing_ConflictRollsBack(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()
	setWaiting(t, s, "user_A")
	require.NoError(t, s.SetUserStatus(ctx, "user_B", models.UserIdle, nil))

	_, err := s.CreatePairing(ctx, "user_A", "user_B")
	assert.ErrorIs(t, err, storage.ErrPairingConflict)

	user, err := s.GetUser(ctx, "user_A")
	require.NoError(t, err)
	assert.Equal(t, models.UserWaiting, user.Status, "nothing is partially applied")
	assert.Nil(t, user.CurrentSessionID)

	var count int64
	require.NoError(t, s.DB.Model(&models.Session{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreatePairing_MissingUserAndSelf(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()
	setWaiting(t, s, "user_A")

	_, err := s.CreatePairing(ctx, "user_A", "ghost")
	assert.ErrorIs(t, err, storage.ErrPairingConflict)

	_, err = s.CreatePairing(ctx, "user_A", "user_A")
	assert.ErrorIs(t, err, storage.ErrSelfPairing)
}

// TestCreatePairing_Exclusive runs competing pairings over a shared pool and
// checks that nobody ends up in two sessions.
func TestCreatePairing_Exclusive(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()
	ids := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	setWaiting(t, s, ids...)

	var wg sync.WaitGroup
	for i := range ids {
		for j := range ids {
			if i == j {
				continue
			}
			wg.Add(1)
			go func(a, b string) {
				defer wg.Done()
				_, _ = s.CreatePairing(ctx, a, b)
			}(ids[i], ids[j])
		}
	}
	wg.Wait()

	var sessions []models.Session
	require.NoError(t, s.DB.Find(&sessions).Error)
	assert.Len(t, sessions, 3, "six users form exactly three pairs")

	seen := make(map[string]string)
	for _, session := range sessions {
		require.Len(t, session.ParticipantIDs, 2)
		for _, id := range session.ParticipantIDs {
			prev, dup := seen[id]
			assert.False(t, dup, "user %s in sessions %s and %s", id, prev, session.ID)
			seen[id] = session.ID

			user, err := s.GetUser(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, session.ID, user.SessionID())
		}
	}
}

func TestAppendMessage_OrderAndSummary(t *testing.T) {
	s, _ := storagetest.NewService(t)
	clock := storagetest.NewClock()
	s.Clock = clock.Now
	ctx := context.Background()
	setWaiting(t, s, "user_A", "user_B")
	sessionID, err := s.CreatePairing(ctx, "user_A", "user_B")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, sessionID, "user_A", "first")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, sessionID, "user_B", "same tick")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.AppendMessage(ctx, sessionID, "user_A", "later")
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "same tick", msgs[1].Text)
	assert.Equal(t, "later", msgs[2].Text)

	session, err := s.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "later", session.LastMessage.Text)
	assert.Equal(t, "user_A", session.LastMessage.SenderID)
}

func TestAppendMessage_RejectsOutsider(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()
	setWaiting(t, s, "user_A", "user_B")
	sessionID, err := s.CreatePairing(ctx, "user_A", "user_B")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, sessionID, "user_C", "hi")
	assert.ErrorIs(t, err, storage.ErrNotParticipant)

	_, err = s.AppendMessage(ctx, "nope", "user_A", "hi")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestEndSession(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()
	setWaiting(t, s, "user_A", "user_B")
	sessionID, err := s.CreatePairing(ctx, "user_A", "user_B")
	require.NoError(t, err)

	require.NoError(t, s.EndSession(ctx, sessionID))
	session, err := s.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, session.Status)

	assert.ErrorIs(t, s.EndSession(ctx, "nope"), storage.ErrSessionNotFound)
}

func TestSubscribeUser_InitialSnapshotAndChanges(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()

	var mu sync.Mutex
	var snapshots []*models.User
	sub, err := s.SubscribeUser(ctx, "user_A", func(u *models.User) {
		mu.Lock()
		snapshots = append(snapshots, u)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) == 1 && snapshots[0] == nil
	}, 2*time.Second, 10*time.Millisecond, "absent user is delivered as nil")

	setWaiting(t, s, "user_A")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := snapshots[len(snapshots)-1]
		return last != nil && last.Status == models.UserWaiting
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeMessages_DeliversFullList(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()
	setWaiting(t, s, "user_A", "user_B")
	sessionID, err := s.CreatePairing(ctx, "user_A", "user_B")
	require.NoError(t, err)

	var mu sync.Mutex
	var latest []models.Message
	sub, err := s.SubscribeMessages(ctx, sessionID, func(msgs []models.Message) {
		mu.Lock()
		latest = msgs
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.AppendMessage(ctx, sessionID, "user_B", text)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 3 && latest[2].Text == "three"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	s, _ := storagetest.NewService(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	sub, err := s.SubscribeUser(ctx, "user_A", func(*models.User) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "closing twice is safe")
	setWaiting(t, s, "user_A")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestRedisPointer(t *testing.T) {
	s, _ := storagetest.NewService(t)
	p := storage.NewRedisPointer(s.Redis, "user_A")

	v, err := p.Load()
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, p.Save("session-1"))
	v, err = p.Load()
	require.NoError(t, err)
	assert.Equal(t, "session-1", v)

	require.NoError(t, p.Clear())
	v, err = p.Load()
	require.NoError(t, err)
	assert.Empty(t, v)
}
