package chathub

import (
	"blabberbox/backend/internal/models"
	"blabberbox/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// State is the user's lifecycle state as seen by this client instance.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StateConnecting State = "connecting"
	StateChatting   State = "chatting"
	// StatePartnerDisconnected is a sub-state of chatting: the session stays
	// open for reading but sending is disabled.
	StatePartnerDisconnected State = "partner_disconnected"
	StateFailed              State = "failed"
)

// Snapshot is a copy of the controller state.
type Snapshot struct {
	State       State
	SessionID   string
	PartnerID   string
	Partner     *models.User
	PartnerLost bool
	Messages    []models.Message
}

type (
	findCmd  struct{}
	retryCmd struct{}
	sendCmd  struct{ text string }
	leaveCmd struct{ done chan struct{} }

	matchDone struct {
		gen    uint64
		result MatchResult
	}
	ownUserChanged struct{ user *models.User }
	ownUserChecked struct {
		gen       uint64
		sessionID string
		user      *models.User
		err       error
	}
	sessionChecked struct {
		gen     uint64
		session *models.Session
		err     error
	}
	partnerChanged struct {
		gen  uint64
		user *models.User
	}
	messagesChanged struct {
		gen  uint64
		msgs []models.Message
	}
)

// Controller is the per-user session state machine. All state below the
// mutex is owned by the loop goroutine; subscriptions and asynchronous store
// calls report back through the events channel.
type Controller struct {
	UserID      string
	DisplayName string
	Publisher   EventPublisher

	store    storage.Storage
	matcher  *MatcherService
	presence *PresenceReporter
	pointer  PointerStore
	client   Client
	opts     Options

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan any
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   bool

	state        State
	gen          uint64
	sessionID    string
	partnerID    string
	partner      *models.User
	partnerSeen  bool
	partnerLost  bool
	messages     []models.Message
	left         map[string]struct{}
	searchCancel context.CancelFunc
	ownSub       storage.Subscription
	partnerSub   storage.Subscription
	msgSub       storage.Subscription

	mu   sync.RWMutex
	snap Snapshot
}

// NewController builds a controller for userID. pointer and client may be nil.
func NewController(userID string, s storage.Storage, pointer PointerStore, client Client, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		UserID:   userID,
		store:    s,
		matcher:  NewMatcherService(s, opts),
		presence: NewPresenceReporter(s, opts.HeartbeatInterval),
		pointer:  pointer,
		client:   client,
		opts:     opts,
		events:   make(chan any, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
		left:     make(map[string]struct{}),
		snap:     Snapshot{State: StateIdle},
	}
}

// Start creates the user record, runs session resumption, subscribes to the
// user's own record and starts the event loop. Resumption completes before
// the own-user subscription exists.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() { err = c.start(ctx) })
	return err
}

func (c *Controller) start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.store.EnsureUser(c.ctx, c.UserID, c.DisplayName); err != nil {
		c.cancel()
		return fmt.Errorf("%w: ensure user %s: %v", ErrTransientStore, c.UserID, err)
	}

	resumed, resumeErr := ResumeSession(c.ctx, c.store, c.pointer, c.UserID)
	if resumeErr != nil {
		log.Printf("WARNING: Discarded session pointer for %s: %v", c.UserID, resumeErr)
	}
	if resumed != nil {
		sessionID := resumed.SessionID
		if err := c.store.SetUserStatus(c.ctx, c.UserID, models.UserChatting, &sessionID); err != nil {
			log.Printf("ERROR: Failed to re-assert session %s for %s: %v", sessionID, c.UserID, err)
		}
	} else if err := c.store.SetUserStatus(c.ctx, c.UserID, models.UserIdle, nil); err != nil {
		log.Printf("ERROR: Failed to reset %s to idle: %v", c.UserID, err)
	}

	sub, err := c.store.SubscribeUser(c.ctx, c.UserID, func(u *models.User) {
		c.post(ownUserChanged{user: u})
	})
	if err != nil {
		c.cancel()
		return fmt.Errorf("%w: subscribe to %s: %v", ErrTransientStore, c.UserID, err)
	}
	c.ownSub = sub

	if resumed != nil {
		c.sessionID = resumed.SessionID
		c.emitPointer(resumed.SessionID)
		c.enterChatting(resumed.PartnerID)
		c.notice(models.NoticeSessionResumed)
		log.Printf("Resumed session %s for %s", resumed.SessionID, c.UserID)
	} else {
		c.setState(StateIdle)
		if errors.Is(resumeErr, ErrInvalidResumedSession) {
			c.notice(models.NoticeSessionInvalid)
		}
	}

	c.started = true
	go c.loop()
	return nil
}

// Close cancels every subscription and timer, attempts a best-effort leave
// write and stops the loop. The session pointer is kept for resumption.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	if c.started {
		<-c.done
	}
}

// Find starts a search. From chatting or partner_disconnected it leaves the
// current session first ("find new chat").
func (c *Controller) Find() { c.post(findCmd{}) }

// Retry restarts the search after a failure.
func (c *Controller) Retry() { c.post(retryCmd{}) }

// Send appends a message to the current session. Delivery failures are
// logged only; the message then never shows up in the stream.
func (c *Controller) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	c.post(sendCmd{text: text})
	return nil
}

// Leave returns the user to idle and waits until the leave write was attempted.
func (c *Controller) Leave() {
	done := make(chan struct{})
	c.post(leaveCmd{done: done})
	select {
	case <-done:
	case <-c.quit:
	}
}

// Dispatch routes a frontend command.
func (c *Controller) Dispatch(cmd models.Command) error {
	switch cmd.Type {
	case models.CommandFind:
		c.Find()
	case models.CommandRetry:
		c.Retry()
	case models.CommandSend:
		return c.Send(cmd.Text)
	case models.CommandLeave:
		c.Leave()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	s.Messages = append([]models.Message(nil), c.snap.Messages...)
	if c.snap.Partner != nil {
		p := *c.snap.Partner
		s.Partner = &p
	}
	return s
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.LivenessPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			c.teardown()
			return
		case ev := <-c.events:
			c.handle(ev)
		case <-ticker.C:
			c.checkPartner()
		}
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case findCmd:
		c.handleFind()
	case retryCmd:
		if c.state == StateFailed {
			c.handleFind()
		}
	case sendCmd:
		c.handleSend(ev.text)
	case leaveCmd:
		c.resetToIdle(models.NoticeChatEnded)
		close(ev.done)
	case matchDone:
		c.handleMatch(ev)
	case ownUserChanged:
		c.handleOwnUser(ev.user)
	case ownUserChecked:
		c.handleOwnUserChecked(ev)
	case sessionChecked:
		c.handleSessionChecked(ev)
	case partnerChanged:
		c.handlePartner(ev)
	case messagesChanged:
		if ev.gen == c.gen {
			c.messages = ev.msgs
			c.publish()
			c.emit(models.Event{Type: models.EventMessages, SessionID: c.sessionID, Messages: ev.msgs})
		}
	}
}

func (c *Controller) handleFind() {
	switch c.state {
	case StateWaiting:
		if c.searchCancel != nil {
			return
		}
	case StateChatting, StatePartnerDisconnected, StateConnecting:
		c.resetToIdle(models.NoticeChatEnded)
	}

	c.newGeneration()
	c.setState(StateWaiting)
	c.presence.Start(c.UserID)
	c.notice(models.NoticeSearchStarted)

	searchCtx, cancel := context.WithCancel(c.ctx)
	c.searchCancel = cancel
	gen := c.gen
	go func() {
		defer cancel()
		c.post(matchDone{gen: gen, result: c.matcher.FindPartner(searchCtx, c.UserID)})
	}()
}

func (c *Controller) handleMatch(ev matchDone) {
	if ev.gen != c.gen {
		return
	}
	c.searchCancel = nil

	switch ev.result.Outcome {
	case MatchPaired:
		c.enterConnecting(ev.result.SessionID)
	case MatchRaced:
		if ev.result.SessionID != "" {
			c.enterConnecting(ev.result.SessionID)
		}
	case MatchStillWaiting:
		// Stay waiting; a later arrival can still pair us.
	case MatchFailed:
		c.fail(ev.result.Err)
	}
}

func (c *Controller) handleOwnUser(u *models.User) {
	if u == nil || u.Status != models.UserChatting {
		return
	}
	sessionID := u.SessionID()
	if sessionID == "" || sessionID == c.sessionID {
		return
	}
	if _, ok := c.left[sessionID]; ok {
		return
	}
	switch c.state {
	case StateIdle, StateWaiting, StateConnecting:
	default:
		return
	}

	// The snapshot may have been loaded before our own leave write landed.
	// Only the record as it is now can pull us into the session.
	gen := c.gen
	go func() {
		u, err := c.store.GetUser(c.ctx, c.UserID)
		c.post(ownUserChecked{gen: gen, sessionID: sessionID, user: u, err: err})
	}()
}

func (c *Controller) handleOwnUserChecked(ev ownUserChecked) {
	if ev.gen != c.gen {
		return
	}
	switch c.state {
	case StateIdle, StateWaiting, StateConnecting:
	default:
		return
	}
	if ev.err != nil {
		if c.state == StateIdle {
			log.Printf("WARNING: Failed to re-read %s before joining %s: %v", c.UserID, ev.sessionID, ev.err)
			return
		}
		c.fail(fmt.Errorf("%w: re-read %s: %v", ErrTransientStore, c.UserID, ev.err))
		return
	}
	if ev.user == nil || ev.user.Status != models.UserChatting || ev.user.SessionID() != ev.sessionID {
		log.Printf("Ignored stale pairing %s for %s", ev.sessionID, c.UserID)
		return
	}
	c.enterConnecting(ev.sessionID)
}

// enterConnecting accepts a pairing from either discovery path; a repeated
// notification for the tracked session is a no-op.
func (c *Controller) enterConnecting(sessionID string) {
	if sessionID == c.sessionID {
		return
	}
	if _, ok := c.left[sessionID]; ok {
		return
	}

	c.closeSessionSubs()
	c.newGeneration()
	c.sessionID = sessionID
	c.clearPartner()
	c.setState(StateConnecting)
	c.savePointer(sessionID)
	c.presence.Start(c.UserID)
	c.notice(models.NoticePartnerFound)

	gen := c.gen
	go func() {
		session, err := c.store.GetSession(c.ctx, sessionID)
		c.post(sessionChecked{gen: gen, session: session, err: err})
	}()
}

func (c *Controller) handleSessionChecked(ev sessionChecked) {
	if ev.gen != c.gen || c.state != StateConnecting {
		return
	}
	if ev.err != nil {
		c.fail(fmt.Errorf("%w: confirm session %s: %v", ErrTransientStore, c.sessionID, ev.err))
		return
	}
	if !ev.session.Joinable(c.UserID) {
		log.Printf("WARNING: Session %s is not joinable for %s", c.sessionID, c.UserID)
		c.resetToIdle(models.NoticeSessionInvalid)
		return
	}
	partnerID, _ := ev.session.PartnerOf(c.UserID)
	c.enterChatting(partnerID)
}

func (c *Controller) enterChatting(partnerID string) {
	c.closeSessionSubs()
	c.partnerID = partnerID
	c.clearPartner()
	c.presence.Start(c.UserID)

	gen, sessionID := c.gen, c.sessionID
	psub, err := c.store.SubscribeUser(c.ctx, partnerID, func(u *models.User) {
		c.post(partnerChanged{gen: gen, user: u})
	})
	if err != nil {
		c.fail(fmt.Errorf("%w: subscribe to partner %s: %v", ErrTransientStore, partnerID, err))
		return
	}
	c.partnerSub = psub

	msub, err := c.store.SubscribeMessages(c.ctx, sessionID, func(msgs []models.Message) {
		c.post(messagesChanged{gen: gen, msgs: msgs})
	})
	if err != nil {
		c.fail(fmt.Errorf("%w: subscribe to messages of %s: %v", ErrTransientStore, sessionID, err))
		return
	}
	c.msgSub = msub

	c.setState(StateChatting)
	c.lifecycle(models.LifecyclePaired)
}

func (c *Controller) handlePartner(ev partnerChanged) {
	if ev.gen != c.gen {
		return
	}
	c.partner = ev.user
	c.partnerSeen = true
	c.publish()
	c.checkPartner()
}

// checkPartner runs on every partner update and on the poll tick. It fires
// at most once per session.
func (c *Controller) checkPartner() {
	if c.state != StateChatting || !c.partnerSeen || c.partnerLost {
		return
	}
	if !PartnerLost(c.partner, c.sessionID, c.opts.Now(), c.opts.PartnerTimeout) {
		return
	}

	c.partnerLost = true
	notice := models.NoticePartnerDisconnected
	if partnerLeft(c.partner, c.sessionID) {
		notice = models.NoticePartnerLeft
	}
	log.Printf("INFO: %v: %s (partner of %s) in session %s, %s", ErrPartnerLost, c.partnerID, c.UserID, c.sessionID, notice)
	c.setState(StatePartnerDisconnected)
	c.notice(notice)
	c.lifecycle(models.LifecyclePartnerLost)
}

func (c *Controller) handleSend(text string) {
	if c.state != StateChatting || c.partnerLost {
		log.Printf("WARNING: Dropped message from %s in state %s", c.UserID, c.state)
		return
	}
	sessionID := c.sessionID
	go func() {
		if _, err := c.store.AppendMessage(c.ctx, sessionID, c.UserID, text); err != nil {
			log.Printf("ERROR: Message from %s to session %s lost: %v", c.UserID, sessionID, err)
		}
	}()
}

// resetToIdle is the leave flow: self back to idle/null, pointer cleared,
// session subscriptions cancelled, presence stopped.
func (c *Controller) resetToIdle(notice string) {
	hadSession := c.sessionID != ""
	if hadSession {
		c.left[c.sessionID] = struct{}{}
		c.lifecycle(models.LifecycleLeft)
	}
	c.dropSession()

	if err := c.store.SetUserStatus(c.ctx, c.UserID, models.UserIdle, nil); err != nil {
		log.Printf("ERROR: Failed to mark %s idle: %v", c.UserID, err)
	}
	c.setState(StateIdle)
	if hadSession && notice != "" {
		c.notice(notice)
	}
}

func (c *Controller) fail(err error) {
	log.Printf("ERROR: Pairing for %s failed: %v", c.UserID, err)
	if c.sessionID != "" {
		c.left[c.sessionID] = struct{}{}
	}
	c.dropSession()

	if err := c.store.SetUserStatus(c.ctx, c.UserID, models.UserIdle, nil); err != nil {
		log.Printf("ERROR: Failed to mark %s idle after failure: %v", c.UserID, err)
	}
	c.setState(StateFailed)
	c.notice(models.NoticePairingError)
	c.lifecycle(models.LifecyclePairingFailed)
}

func (c *Controller) dropSession() {
	c.closeSessionSubs()
	c.newGeneration()
	c.presence.Stop()
	c.sessionID = ""
	c.partnerID = ""
	c.clearPartner()
	c.clearPointer()
}

func (c *Controller) teardown() {
	c.closeSessionSubs()
	if c.ownSub != nil {
		_ = c.ownSub.Close()
		c.ownSub = nil
	}
	c.newGeneration()
	c.presence.Stop()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.opts.LeaveTimeout)
	defer cancel()
	if err := c.store.SetUserStatus(ctx, c.UserID, models.UserIdle, nil); err != nil {
		log.Printf("WARNING: Leave on teardown for %s failed: %v", c.UserID, err)
	}
	c.cancel()
}

func (c *Controller) newGeneration() {
	c.gen++
	if c.searchCancel != nil {
		c.searchCancel()
		c.searchCancel = nil
	}
}

func (c *Controller) clearPartner() {
	c.partner = nil
	c.partnerSeen = false
	c.partnerLost = false
	c.messages = nil
}

func (c *Controller) closeSessionSubs() {
	if c.partnerSub != nil {
		_ = c.partnerSub.Close()
		c.partnerSub = nil
	}
	if c.msgSub != nil {
		_ = c.msgSub.Close()
		c.msgSub = nil
	}
}

func (c *Controller) savePointer(sessionID string) {
	if c.pointer != nil {
		if err := c.pointer.Save(sessionID); err != nil {
			log.Printf("WARNING: Failed to save session pointer for %s: %v", c.UserID, err)
		}
	}
	c.emitPointer(sessionID)
}

func (c *Controller) clearPointer() {
	if c.pointer != nil {
		if err := c.pointer.Clear(); err != nil {
			log.Printf("WARNING: Failed to clear session pointer for %s: %v", c.UserID, err)
		}
	}
	c.emitPointer("")
}

func (c *Controller) setState(s State) {
	c.state = s
	c.publish()
	c.emit(models.Event{
		Type:        models.EventState,
		State:       string(s),
		SessionID:   c.sessionID,
		PartnerID:   c.partnerID,
		PartnerName: c.partner.Name(""),
	})
}

func (c *Controller) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{
		State:       c.state,
		SessionID:   c.sessionID,
		PartnerID:   c.partnerID,
		Partner:     c.partner,
		PartnerLost: c.partnerLost,
		Messages:    c.messages,
	}
}

func (c *Controller) notice(key string) {
	c.emit(models.Event{Type: models.EventNotice, Notice: key, SessionID: c.sessionID, PartnerName: c.partner.Name("")})
}

func (c *Controller) emitPointer(sessionID string) {
	c.emit(models.Event{Type: models.EventSessionPointer, SessionID: sessionID})
}

func (c *Controller) emit(ev models.Event) {
	if c.client == nil {
		return
	}
	select {
	case c.client.GetSendChannel() <- ev:
	case <-c.quit:
	}
}

func (c *Controller) lifecycle(t models.LifecycleType) {
	if c.Publisher == nil {
		return
	}
	ev := models.LifecycleEvent{Type: t, UserID: c.UserID, SessionID: c.sessionID, At: c.opts.Now().Unix()}
	go func() {
		if err := c.Publisher.Publish(ev); err != nil {
			log.Printf("WARNING: Failed to publish %s event for %s: %v", ev.Type, ev.UserID, err)
		}
	}()
}
