// Package session drives one chat session: loading or creating it,
// streaming bot replies into provisional messages and promoting them to
// their server ids, and gating feedback on final messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Rrens/chatstream/internal/attachment"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// User-visible notices
const (
	noticeSessionNotFound = "Chat session not found. A new chat was started."
	noticeAuthRequired    = "Your session has expired. Please log in again."
	noticeOpenFailed      = "Failed to start or load the chat."
	noticeTimeout         = "No response from the server (timed out). Please try again."
	noticeStreamFailed    = "An error occurred while receiving the response."
	noticeNotFinal        = "Please wait until the response is complete before giving feedback."
	noticeFeedbackFailed  = "Failed to send feedback. Please try again."
)

// Input is one user turn
type Input struct {
	Text        string
	Attachments []domain.Attachment
	// Audio is a base64 encoded WAV recording
	Audio string
	// Sections overrides the controller's selected knowledge sections
	Sections []string
}

// Controller owns the state of one chat session. All mutations, whether
// caller actions, stream events or timer callbacks, run under mu and are
// therefore applied one at a time.
type Controller struct {
	backend domain.ChatBackend
	opts    Options
	clock   clockwork.Clock
	ids     *idSource
	log     zerolog.Logger
	bg      sync.WaitGroup

	mu           sync.Mutex
	epoch        uint64
	closed       bool
	opening      bool
	sessionID    string
	status       domain.SessionStatus
	messages     []domain.Message
	errMsg       string
	authRequired bool
	sections     []string
	turn         *Turn

	notice    clockwork.Timer
	noticeGen uint64

	subs    map[uint64]chan domain.Snapshot
	nextSub uint64
}

// New creates a controller with no session. Call Open before sending.
func New(backend domain.ChatBackend, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		backend:  backend,
		opts:     opts,
		clock:    opts.Clock,
		ids:      newIDSource(opts.Clock),
		log:      opts.Logger.With().Str("component", "session").Logger(),
		status:   domain.StatusInitializing,
		sections: append([]string(nil), opts.Sections...),
		subs:     make(map[uint64]chan domain.Snapshot),
	}
}

// Open resumes the session with the given id, or creates one when target
// is empty or NewSessionTarget. Any in-flight turn is aborted first. A
// resumed session that no longer exists is replaced by a new one.
func (c *Controller) Open(ctx context.Context, target string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &domain.ValidationError{Reason: "session controller is closed"}
	}
	c.abortTurnLocked()
	c.epoch++
	epoch := c.epoch
	c.sessionID = ""
	c.status = domain.StatusInitializing
	c.messages = nil
	c.turn = nil
	c.opening = true
	c.authRequired = false
	c.setBannerLocked("")
	c.publishLocked()
	c.mu.Unlock()

	sessionID, history, notice, err := c.load(ctx, target)

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return domain.ErrSuperseded
	}
	c.opening = false

	if err != nil {
		c.log.Error().Err(err).Str("target", target).Msg("Failed to open session")
		c.status = domain.StatusError
		c.authRequired = errors.Is(err, domain.ErrUnauthenticated)
		c.setBannerLocked(openErrorText(err))
		c.publishLocked()
		return err
	}

	c.sessionID = sessionID
	c.messages = history
	if len(c.messages) == 0 {
		c.messages = append(c.messages, c.greetingLocked())
	}
	c.status = domain.StatusReady
	if notice != "" {
		c.setNoticeLocked(notice)
	}
	c.publishLocked()

	c.log.Info().
		Str("session_id", sessionID).
		Int("messages", len(c.messages)).
		Msg("Session ready")

	return nil
}

func (c *Controller) load(ctx context.Context, target string) (string, []domain.Message, string, error) {
	var notice string

	if target != "" && target != NewSessionTarget {
		history, err := c.backend.ListMessages(ctx, target)
		if err == nil {
			return target, convertHistory(history), "", nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return "", nil, "", fmt.Errorf("failed to load session: %w", err)
		}
		c.log.Warn().Str("session_id", target).Msg("Session not found, starting a new one")
		notice = noticeSessionNotFound
	}

	id, err := c.backend.CreateSession(ctx)
	if err != nil {
		return "", nil, "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil, notice, nil
}

// StartNewSession abandons the current session and creates a new one
func (c *Controller) StartNewSession(ctx context.Context) error {
	return c.Open(ctx, NewSessionTarget)
}

// SendMessage starts a new turn. A turn already in flight is aborted
// first. The returned Turn reports progress; the reply itself is read
// from snapshots.
func (c *Controller) SendMessage(ctx context.Context, in Input) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkSendLocked(in); err != nil {
		c.setNoticeLocked(err.Error())
		c.publishLocked()
		return nil, err
	}

	c.abortTurnLocked()
	c.setBannerLocked("")
	c.authRequired = false

	now := c.clock.Now()
	user := domain.Message{
		ID:          c.ids.next(prefixUser),
		Sender:      domain.SenderUser,
		Category:    domain.CategoryTurn,
		Text:        attachment.DisplayText(in.Text, in.Attachments, in.Audio),
		IsFinal:     true,
		Attachments: append([]domain.Attachment(nil), in.Attachments...),
		AudioData:   in.Audio,
		CreatedAt:   now,
	}
	bot := domain.Message{
		ID:        c.ids.next(prefixBot),
		Sender:    domain.SenderBot,
		Category:  domain.CategoryTurn,
		CreatedAt: now,
	}
	c.messages = append(c.messages, user, bot)

	sections := in.Sections
	if len(sections) == 0 {
		sections = c.sections
	}
	sections = c.opts.Catalog.Resolve(sections)

	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Turn{
		ctrl:     c,
		epoch:    c.epoch,
		id:       c.ids.next("turn"),
		userID:   user.ID,
		botID:    bot.ID,
		state:    domain.TurnAwaitingFirstByte,
		started:  now,
		sections: sections,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.turn = t
	c.armWatchdogLocked(t)
	c.publishLocked()

	payload := domain.StreamRequest{
		Content:  attachment.BuildContent(in.Text, in.Attachments, in.Audio),
		Sections: t.sections,
	}

	c.log.Debug().
		Str("session_id", c.sessionID).
		Str("turn_id", t.id).
		Int("attachments", len(in.Attachments)).
		Msg("Sending message")

	go c.run(turnCtx, t, c.sessionID, payload)

	return t, nil
}

func (c *Controller) checkSendLocked(in Input) error {
	switch {
	case c.closed:
		return &domain.ValidationError{Reason: "session controller is closed"}
	case c.sessionID == "":
		return &domain.ValidationError{Reason: "no active chat session; start a new chat"}
	case c.status != domain.StatusReady:
		return &domain.ValidationError{Reason: "chat session is not ready"}
	case in.Text == "" && len(in.Attachments) == 0 && in.Audio == "":
		return &domain.ValidationError{Reason: "nothing to send"}
	}
	return nil
}

// Cancel aborts the in-flight turn, if any, leaving its message as is
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortTurnLocked()
	c.publishLocked()
}

// SetSections selects the knowledge sections sent with later turns.
// An empty selection restores the configured preference.
func (c *Controller) SetSections(sections []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(sections) == 0 {
		sections = c.opts.Sections
	}
	c.sections = append([]string(nil), sections...)
}

// SessionID returns the id of the open session, or "" before Open succeeds
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Teardown aborts the in-flight turn, stops timers and closes every
// subscription. Late completions are discarded. It waits for pending
// archive writes.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.turn != nil && !c.turn.state.Terminal() {
		c.abortTurnLocked()
		c.publishLocked()
	}
	c.closed = true
	c.epoch++
	c.stopNoticeLocked()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.bg.Wait()
	c.log.Debug().Msg("Session controller closed")
}

// Snapshot returns a deep copy of the session state
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel of snapshots, starting with the current one.
// Slow readers only see the latest snapshot. The channel is closed by
// the returned cancel func or by Teardown.
func (c *Controller) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Controller) snapshotLocked() domain.Snapshot {
	messages := make([]domain.Message, len(c.messages))
	for i, m := range c.messages {
		messages[i] = m.Clone()
	}

	turnState := domain.TurnIdle
	if c.turn != nil {
		turnState = c.turn.state
	}

	return domain.Snapshot{
		SessionID:    c.sessionID,
		Status:       c.status,
		Messages:     messages,
		IsLoading:    c.opening || (c.turn != nil && !c.turn.state.Terminal()),
		Error:        c.errMsg,
		TurnState:    turnState,
		AuthRequired: c.authRequired,
	}
}

// publishLocked hands the latest snapshot to every subscriber, replacing
// one they have not read yet
func (c *Controller) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) greetingLocked() domain.Message {
	return domain.Message{
		ID:        c.ids.next(prefixGreeting),
		Sender:    domain.SenderBot,
		Category:  domain.CategoryGreeting,
		Text:      c.opts.Greeting,
		IsFinal:   true,
		CreatedAt: c.clock.Now(),
	}
}

func (c *Controller) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// setBannerLocked sets an error that stays until replaced
func (c *Controller) setBannerLocked(msg string) {
	c.stopNoticeLocked()
	c.errMsg = msg
}

// setNoticeLocked sets an error that clears itself after NoticeTTL unless
// something else replaced it first
func (c *Controller) setNoticeLocked(msg string) {
	c.stopNoticeLocked()
	c.errMsg = msg
	gen := c.noticeGen
	c.notice = c.clock.AfterFunc(c.opts.NoticeTTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || gen != c.noticeGen {
			return
		}
		c.errMsg = ""
		c.notice = nil
		c.publishLocked()
	})
}

func (c *Controller) stopNoticeLocked() {
	c.noticeGen++
	if c.notice != nil {
		c.notice.Stop()
		c.notice = nil
	}
}

func openErrorText(err error) string {
	if errors.Is(err, domain.ErrUnauthenticated) {
		return noticeAuthRequired
	}
	var te *domain.TransportError
	if errors.As(err, &te) && te.Detail != "" {
		return noticeOpenFailed + " " + te.Detail
	}
	return noticeOpenFailed
}

// requestErrorText renders a failure that happened before streaming began
func requestErrorText(err error) string {
	if errors.Is(err, domain.ErrUnauthenticated) {
		return noticeAuthRequired
	}
	var te *domain.TransportError
	if errors.As(err, &te) {
		return te.Message()
	}
	return err.Error()
}
