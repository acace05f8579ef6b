package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Turn is one request/response cycle: a user message and the bot reply
// streamed for it. Its fields are guarded by the owning controller's mutex.
type Turn struct {
	ctrl  *Controller
	epoch uint64

	id       string
	userID   string
	botID    string
	realID   string
	state    domain.TurnState
	err      error
	started  time.Time
	sections []string

	cancel    context.CancelFunc
	body      io.ReadCloser
	abortOnce sync.Once
	aborts    int

	watchdog clockwork.Timer
	watchGen uint64

	done chan struct{}
}

// ID identifies the turn. It is stable across the bot message's id change.
func (t *Turn) ID() string {
	return t.id
}

// State returns the current turn state
func (t *Turn) State() domain.TurnState {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return t.state
}

// MessageID returns the current id of the bot message. It changes when a
// real id is promoted or the message turns into an error message, and is
// empty once a failed request removed the placeholder.
func (t *Turn) MessageID() string {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return t.botID
}

// Err returns why the turn failed or was aborted
func (t *Turn) Err() error {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	return t.err
}

// Done is closed when the turn reaches a terminal state
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn is terminal and returns its error
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abort cancels the request and closes the body so a blocked read returns.
// Must hold ctrl.mu.
func (t *Turn) abort() {
	t.abortOnce.Do(func() {
		t.aborts++
		t.cancel()
		if t.body != nil {
			t.body.Close()
		}
	})
}
