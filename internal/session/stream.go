package session

import (
	"context"
	"errors"
	"io"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/sse"
)

// run opens the stream for t and applies its events until the stream
// ends or t stops being the current turn
func (c *Controller) run(ctx context.Context, t *Turn, sessionID string, payload domain.StreamRequest) {
	body, err := c.backend.OpenStream(ctx, sessionID, payload)

	c.mu.Lock()
	if !c.isCurrentLocked(t) {
		c.mu.Unlock()
		if body != nil {
			body.Close()
		}
		return
	}
	if err != nil {
		c.failBeforeStreamLocked(t, err)
		c.publishLocked()
		c.mu.Unlock()
		return
	}
	t.body = body
	c.mu.Unlock()

	defer body.Close()

	stream := sse.NewStream(body,
		sse.WithLogger(c.log),
		sse.WithParseErrorHandler(func(error) { c.opts.Metrics.ParseFailure() }),
	)

	for {
		ev, err := stream.Next()

		c.mu.Lock()
		if !c.isCurrentLocked(t) {
			c.mu.Unlock()
			return
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				c.finishLocked(t)
			} else {
				c.streamFailedLocked(t, err)
			}
			c.publishLocked()
			c.mu.Unlock()
			return
		}

		c.applyLocked(t, ev)
		c.publishLocked()
		done := t.state.Terminal()
		c.mu.Unlock()

		if done {
			return
		}
	}
}

func (c *Controller) isCurrentLocked(t *Turn) bool {
	return c.turn == t && t.epoch == c.epoch && !t.state.Terminal()
}

// applyLocked folds one stream event into the bot message
func (c *Controller) applyLocked(t *Turn, ev sse.Event) {
	c.opts.Metrics.StreamEvent(ev.Type())

	if t.state == domain.TurnAwaitingFirstByte {
		t.state = domain.TurnStreaming
	}
	c.armWatchdogLocked(t)

	idx := c.indexLocked(t.botID)
	if idx < 0 {
		return
	}
	msg := &c.messages[idx]

	switch e := ev.(type) {
	case sse.TextEvent:
		msg.Text += e.Content

	case sse.RealIDEvent:
		// promoted only once the stream ends cleanly
		t.realID = e.ID

	case sse.ChartDataEvent:
		msg.ChartData = e.Payload
		if e.SuggestedText != "" {
			if msg.Text != "" {
				msg.Text += "\n"
			}
			msg.Text += e.SuggestedText
		}

	case sse.ErrorEvent:
		c.log.Warn().Str("turn_id", t.id).Str("error", e.Message).Msg("Backend reported a stream error")
		c.convertToErrorLocked(t, "Error: "+e.Message)
		c.setNoticeLocked("Server error: " + e.Message)
		t.abort()
		c.completeLocked(t, domain.TurnFailed, &domain.ServerStreamError{Message: e.Message})

	case sse.UnknownEvent:
	}
}

// finishLocked handles a clean end of stream. The message becomes final
// only if the backend sent its real id.
func (c *Controller) finishLocked(t *Turn) {
	t.state = domain.TurnFinalizing

	if idx := c.indexLocked(t.botID); idx >= 0 && t.realID != "" {
		c.messages[idx].ID = t.realID
		c.messages[idx].IsFinal = true
		t.botID = t.realID
	} else {
		c.log.Warn().Str("turn_id", t.id).Msg("Stream ended without a message id; reply stays provisional")
	}

	c.completeLocked(t, domain.TurnCompleted, nil)
}

func (c *Controller) streamFailedLocked(t *Turn, err error) {
	c.log.Error().Err(err).Str("turn_id", t.id).Msg("Failed to read stream")
	c.convertToErrorLocked(t, c.opts.StreamErrorText)
	c.setNoticeLocked(noticeStreamFailed)
	c.completeLocked(t, domain.TurnFailed, err)
}

// failBeforeStreamLocked drops the placeholder that never received a byte
// and reports the failure as a session error
func (c *Controller) failBeforeStreamLocked(t *Turn, err error) {
	c.log.Error().Err(err).Str("turn_id", t.id).Msg("Failed to open stream")

	if idx := c.indexLocked(t.botID); idx >= 0 {
		c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	}
	t.botID = ""

	c.setBannerLocked(requestErrorText(err))
	c.authRequired = errors.Is(err, domain.ErrUnauthenticated)
	c.completeLocked(t, domain.TurnFailed, err)
}

// convertToErrorLocked turns the bot message into a final error message
func (c *Controller) convertToErrorLocked(t *Turn, text string) {
	idx := c.indexLocked(t.botID)
	if idx < 0 {
		return
	}
	msg := &c.messages[idx]
	msg.ID = c.ids.next(prefixError)
	msg.Sender = domain.SenderError
	msg.Category = domain.CategoryError
	msg.Text = text
	msg.IsLiked = nil
	msg.IsFinal = true
	t.botID = msg.ID
}

// abortTurnLocked cancels the current turn if it is still running
func (c *Controller) abortTurnLocked() {
	t := c.turn
	if t == nil || t.state.Terminal() {
		return
	}
	c.log.Debug().Str("turn_id", t.id).Msg("Aborting turn")
	t.abort()
	c.completeLocked(t, domain.TurnAborted, domain.ErrSuperseded)
}

// completeLocked moves t to a terminal state exactly once
func (c *Controller) completeLocked(t *Turn, state domain.TurnState, err error) {
	if t.state.Terminal() {
		return
	}
	t.state = state
	t.err = err
	c.stopWatchdogLocked(t)
	t.cancel()
	close(t.done)

	c.opts.Metrics.TurnFinished(string(state), c.clock.Since(t.started).Seconds())

	if state != domain.TurnAborted {
		c.archiveLocked(t)
	}
}

func (c *Controller) armWatchdogLocked(t *Turn) {
	if t.watchdog != nil {
		t.watchdog.Stop()
	}
	t.watchGen++
	gen := t.watchGen
	t.watchdog = c.clock.AfterFunc(c.opts.StreamTimeout, func() {
		c.onTimeout(t, gen)
	})
}

func (c *Controller) stopWatchdogLocked(t *Turn) {
	t.watchGen++
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
}

func (c *Controller) onTimeout(t *Turn, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a timer that fired while being re-armed carries a stale generation
	if gen != t.watchGen || !c.isCurrentLocked(t) {
		return
	}

	c.log.Warn().
		Str("turn_id", t.id).
		Dur("timeout", c.opts.StreamTimeout).
		Msg("No stream event received in time")

	c.convertToErrorLocked(t, c.opts.TimeoutText)
	c.setNoticeLocked(noticeTimeout)
	t.abort()
	c.completeLocked(t, domain.TurnFailed, &domain.StreamTimeoutError{Window: c.opts.StreamTimeout})
	c.publishLocked()
}

// archiveLocked stores the turn's messages in the background
func (c *Controller) archiveLocked(t *Turn) {
	if c.opts.Archive == nil || c.sessionID == "" {
		return
	}

	var msgs []domain.Message
	for _, id := range []string{t.userID, t.botID} {
		if idx := c.indexLocked(id); idx >= 0 {
			msgs = append(msgs, c.messages[idx].Clone())
		}
	}
	if len(msgs) == 0 {
		return
	}

	sessionID := c.sessionID
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := c.opts.Archive.SaveMessages(ctx, sessionID, msgs); err != nil {
			c.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to archive turn")
		}
	}()
}
