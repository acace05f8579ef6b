package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestOpen_NewSessionHasGreeting(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "s-1", snap.SessionID)
	assert.Equal(t, domain.StatusReady, snap.Status)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, domain.TurnIdle, snap.TurnState)

	require.Len(t, snap.Messages, 1)
	greeting := snap.Messages[0]
	assert.Equal(t, domain.SenderBot, greeting.Sender)
	assert.Equal(t, domain.CategoryGreeting, greeting.Category)
	assert.True(t, greeting.IsFinal)
	assert.Equal(t, defaultGreeting, greeting.Text)
}

func TestOpen_ResumedHistoryIsFinalAndOpensNoStream(t *testing.T) {
	h := newHarness(t)
	content := "plain"
	h.backend.history["s-9"] = []domain.HistoryMessage{
		{ID: []byte(`1`), SenderType: "user", JSONContent: []domain.ContentPart{
			{Type: "text", Text: "line one"},
			{Type: "text", Text: "line two"},
			{Type: "image_url", FileName: "x.png", ImageURL: &domain.ImageURL{URL: "data:image/png;base64,AAAA"}},
			{Type: "input_audio", InputAudio: &domain.InputAudio{Data: "UklGR", Format: "wav"}},
		}},
		{ID: []byte(`"m-2"`), SenderType: "bot", Content: &content, IsLiked: boolPtr(true), ChartData: []byte(`{"kind":"pie"}`)},
		{ID: []byte(`3`), SenderType: "error", Content: &content},
	}

	h.open(t, "s-9")

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "s-9", snap.SessionID)
	require.Len(t, snap.Messages, 3)
	for _, m := range snap.Messages {
		assert.True(t, m.IsFinal, m.ID)
	}

	user := snap.Messages[0]
	assert.Equal(t, "line one\nline two", user.Text)
	assert.Equal(t, []domain.Attachment{{Data: "AAAA", MimeType: "image/png", Name: "x.png"}}, user.Attachments)
	assert.Equal(t, "UklGR", user.AudioData)

	bot := snap.Messages[1]
	assert.Equal(t, "m-2", bot.ID)
	assert.Equal(t, "plain", bot.Text)
	assert.True(t, bot.FeedbackEligible())
	assert.JSONEq(t, `{"kind":"pie"}`, string(bot.ChartData))

	assert.Equal(t, domain.CategoryError, snap.Messages[2].Category)
	assert.Zero(t, h.backend.streamCount())
}

func TestOpen_EmptyHistoryGetsGreeting(t *testing.T) {
	h := newHarness(t)
	h.backend.history["s-5"] = []domain.HistoryMessage{}

	h.open(t, "s-5")

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, domain.CategoryGreeting, snap.Messages[0].Category)
}

func TestOpen_MissingSessionStartsNewOne(t *testing.T) {
	h := newHarness(t)

	h.open(t, "gone")

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "s-1", snap.SessionID)
	assert.Equal(t, noticeSessionNotFound, snap.Error)

	h.clock.Advance(defaultNoticeTTL)
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Error == "" }, time.Second, 5*time.Millisecond)
}

func TestOpen_Failure(t *testing.T) {
	h := newHarness(t)
	h.backend.createErr = &domain.AuthError{}

	err := h.ctrl.Open(ctx, NewSessionTarget)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StatusError, snap.Status)
	assert.True(t, snap.AuthRequired)
	assert.Equal(t, noticeAuthRequired, snap.Error)
	assert.Empty(t, snap.Messages)
}

func TestSendMessage_PromotesRealID(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "hello"})
	require.NoError(t, err)
	provisional := turn.MessageID()
	assert.Equal(t, domain.TurnAwaitingFirstByte, turn.State())

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.True(t, snap.IsLoading)
	assert.Equal(t, "hello", snap.Messages[1].Text)
	assert.True(t, snap.Messages[1].IsFinal)
	assert.False(t, snap.Messages[2].IsFinal)

	stream := h.backend.nextStream(t)
	assert.Equal(t, []domain.ContentPart{{Type: "text", Text: "hello"}}, stream.req.Content)
	assert.Equal(t, []string{}, stream.req.Sections, "nothing known, nothing preferred")

	require.NoError(t, stream.write(textFrame(t, "Hi")))
	require.Eventually(t, func() bool { return h.lastMessage().Text == "Hi" }, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.TurnStreaming, turn.State())
	assert.Equal(t, provisional, h.lastMessage().ID)

	require.NoError(t, stream.write(textFrame(t, " there"), idFrame(t, "m-123")))
	require.Eventually(t, func() bool { return h.lastMessage().Text == "Hi there" }, time.Second, 5*time.Millisecond)

	// the real id is held until the stream ends
	assert.Equal(t, provisional, h.lastMessage().ID)
	assert.False(t, h.lastMessage().IsFinal)

	stream.end()
	require.NoError(t, waitTurn(t, turn))

	bot := h.lastMessage()
	assert.Equal(t, "m-123", bot.ID)
	assert.Equal(t, "Hi there", bot.Text)
	assert.True(t, bot.IsFinal)
	assert.Equal(t, domain.TurnCompleted, turn.State())
	assert.False(t, h.ctrl.Snapshot().IsLoading)
	assert.Zero(t, abortCount(turn))
}

func TestSendMessage_NoRealIDStaysProvisional(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "q"})
	require.NoError(t, err)
	provisional := turn.MessageID()

	stream := h.backend.nextStream(t)
	require.NoError(t, stream.write(textFrame(t, "partial")))
	stream.end()
	require.NoError(t, waitTurn(t, turn))

	bot := h.lastMessage()
	assert.Equal(t, provisional, bot.ID)
	assert.Equal(t, "partial", bot.Text)
	assert.False(t, bot.IsFinal)

	err = h.ctrl.SetFeedback(ctx, bot.ID, boolPtr(true))
	assert.True(t, domain.IsValidation(err))
	assert.Zero(t, h.backend.feedbackCount())
	assert.Equal(t, noticeNotFinal, h.ctrl.Snapshot().Error)
}

func TestSendMessage_ChartData(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "sales?"})
	require.NoError(t, err)

	stream := h.backend.nextStream(t)
	require.NoError(t, stream.write(
		textFrame(t, "Here you go."),
		frame(t, map[string]any{"type": "chart_data", "data": map[string]any{"kind": "bar", "suggested_text_response": "Sales rose 4%."}}),
		idFrame(t, "m-7"),
	))
	stream.end()
	require.NoError(t, waitTurn(t, turn))

	bot := h.lastMessage()
	assert.Equal(t, "Here you go.\nSales rose 4%.", bot.Text)
	assert.JSONEq(t, `{"kind":"bar","suggested_text_response":"Sales rose 4%."}`, string(bot.ChartData))
}

func TestSendMessage_CancelAndReplace(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	first, err := h.ctrl.SendMessage(ctx, Input{Text: "one"})
	require.NoError(t, err)
	firstStream := h.backend.nextStream(t)
	require.NoError(t, firstStream.write(textFrame(t, "first")))
	require.Eventually(t, func() bool { return first.State() == domain.TurnStreaming }, time.Second, 5*time.Millisecond)
	firstID := first.MessageID()

	second, err := h.ctrl.SendMessage(ctx, Input{Text: "two"})
	require.NoError(t, err)

	assert.Equal(t, domain.TurnAborted, first.State())
	assert.ErrorIs(t, first.Err(), domain.ErrSuperseded)
	assert.Equal(t, 1, abortCount(first))
	assert.True(t, firstStream.body.isClosed())

	// late frames of the aborted turn cannot reach the session
	assert.ErrorIs(t, firstStream.write(textFrame(t, "late")), io.ErrClosedPipe)

	secondStream := h.backend.nextStream(t)
	require.NoError(t, secondStream.write(textFrame(t, "second"), idFrame(t, "m-2")))
	secondStream.end()
	require.NoError(t, waitTurn(t, second))

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 5)

	var aborted domain.Message
	for _, m := range snap.Messages {
		if m.ID == firstID {
			aborted = m
		}
	}
	assert.Equal(t, "first", aborted.Text)
	assert.False(t, aborted.IsFinal)

	last := snap.Messages[4]
	assert.Equal(t, "m-2", last.ID)
	assert.Equal(t, "second", last.Text)
	assert.True(t, last.IsFinal)
	assert.Equal(t, domain.TurnCompleted, snap.TurnState)
}

func TestSendMessage_AbortedTurnIgnoresBufferedEvents(t *testing.T) {
	h := newHarness(t)
	h.backend.detachClose = true
	h.open(t, NewSessionTarget)

	first, err := h.ctrl.SendMessage(ctx, Input{Text: "one"})
	require.NoError(t, err)
	firstStream := h.backend.nextStream(t)
	require.NoError(t, firstStream.write(textFrame(t, "first")))
	require.Eventually(t, func() bool { return first.State() == domain.TurnStreaming }, time.Second, 5*time.Millisecond)
	firstID := first.MessageID()

	second, err := h.ctrl.SendMessage(ctx, Input{Text: "two"})
	require.NoError(t, err)
	require.Equal(t, domain.TurnAborted, first.State())
	secondStream := h.backend.nextStream(t)

	// the old body keeps delivering after the abort; one write so a
	// single read buffers both frames
	require.NoError(t, firstStream.write(textFrame(t, " late")+idFrame(t, "m-late")))
	firstStream.end()
	require.Eventually(t, func() bool { return firstStream.body.closeCount() == 2 }, time.Second, 5*time.Millisecond,
		"reader loop exits after the abort")

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 5)
	assert.Equal(t, firstID, snap.Messages[2].ID)
	assert.Equal(t, "first", snap.Messages[2].Text)
	assert.False(t, snap.Messages[2].IsFinal)
	assert.Equal(t, domain.TurnAwaitingFirstByte, second.State())
	assert.True(t, snap.IsLoading)

	require.NoError(t, secondStream.write(textFrame(t, "second"), idFrame(t, "m-2")))
	secondStream.end()
	require.NoError(t, waitTurn(t, second))

	snap = h.ctrl.Snapshot()
	assert.Equal(t, firstID, snap.Messages[2].ID)
	assert.False(t, snap.Messages[2].IsFinal)
	assert.Equal(t, "m-2", snap.Messages[4].ID)
	assert.Equal(t, "second", snap.Messages[4].Text)
	assert.True(t, snap.Messages[4].IsFinal)
}

func TestSendMessage_StaleStreamOpenIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	release := make(chan struct{})
	h.backend.holdOpen = release

	first, err := h.ctrl.SendMessage(ctx, Input{Text: "one"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.backend.streamCount() == 1 }, time.Second, 5*time.Millisecond)

	second, err := h.ctrl.SendMessage(ctx, Input{Text: "two"})
	require.NoError(t, err)
	secondStream := h.backend.nextStream(t)

	close(release)
	firstStream := h.backend.nextStream(t)
	require.Eventually(t, firstStream.body.isClosed, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, firstStream.write(textFrame(t, "late")), io.ErrClosedPipe)
	assert.Equal(t, domain.TurnAborted, first.State())
	assert.Equal(t, 1, abortCount(first))

	require.NoError(t, secondStream.write(textFrame(t, "second"), idFrame(t, "m-2")))
	secondStream.end()
	require.NoError(t, waitTurn(t, second))

	for _, m := range h.ctrl.Snapshot().Messages {
		assert.NotContains(t, m.Text, "late")
	}
	assert.Equal(t, "m-2", h.lastMessage().ID)
}

func TestSendMessage_Timeout(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "slow"})
	require.NoError(t, err)
	stream := h.backend.nextStream(t)

	h.clock.Advance(100 * time.Second)
	require.NoError(t, stream.write(textFrame(t, "thinking")))
	require.Eventually(t, func() bool { return h.lastMessage().Text == "thinking" }, time.Second, 5*time.Millisecond)

	// the event re-armed the watchdog, so the original deadline passes quietly
	h.clock.Advance(119 * time.Second)
	assert.Equal(t, domain.TurnStreaming, turn.State())

	h.clock.Advance(2 * time.Second)
	err = waitTurn(t, turn)

	var timeout *domain.StreamTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, defaultStreamTimeout, timeout.Window)
	assert.Equal(t, domain.TurnFailed, turn.State())
	assert.Equal(t, 1, abortCount(turn))

	bot := h.lastMessage()
	assert.Equal(t, domain.SenderError, bot.Sender)
	assert.Equal(t, defaultTimeoutText, bot.Text)
	assert.True(t, bot.IsFinal)
	assert.True(t, strings.HasPrefix(bot.ID, prefixError+"-"))
	assert.Equal(t, noticeTimeout, h.ctrl.Snapshot().Error)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, abortCount(turn))
}

func TestSendMessage_ServerErrorEvent(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "q"})
	require.NoError(t, err)
	stream := h.backend.nextStream(t)

	// the write may fail once the controller closes the body on the error frame
	_ = stream.write(textFrame(t, "par"), frame(t, map[string]any{"type": "error", "content": "quota exceeded"}))
	err = waitTurn(t, turn)

	var serverErr *domain.ServerStreamError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "quota exceeded", serverErr.Message)
	assert.Equal(t, 1, abortCount(turn))

	bot := h.lastMessage()
	assert.Equal(t, domain.SenderError, bot.Sender)
	assert.Equal(t, domain.CategoryError, bot.Category)
	assert.Equal(t, "Error: quota exceeded", bot.Text)
	assert.True(t, bot.IsFinal)
	assert.False(t, bot.FeedbackEligible())
}

func TestSendMessage_ReadErrorMidStream(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "q"})
	require.NoError(t, err)
	stream := h.backend.nextStream(t)

	require.NoError(t, stream.write(textFrame(t, "par")))
	stream.w.CloseWithError(errors.New("connection reset"))

	err = waitTurn(t, turn)
	assert.EqualError(t, err, "connection reset")

	bot := h.lastMessage()
	assert.Equal(t, domain.SenderError, bot.Sender)
	assert.Equal(t, defaultStreamErrorText, bot.Text)
	assert.Equal(t, noticeStreamFailed, h.ctrl.Snapshot().Error)
}

func TestSendMessage_RequestFailureBeforeStreaming(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)
	h.backend.streamErr = &domain.TransportError{Status: 500, Detail: "backend exploded"}

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "q"})
	require.NoError(t, err)

	err = waitTurn(t, turn)
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 2, "placeholder is dropped")
	assert.Equal(t, domain.SenderUser, snap.Messages[1].Sender)
	assert.Equal(t, "backend exploded", snap.Error)
	assert.Equal(t, domain.TurnFailed, snap.TurnState)
	assert.Empty(t, turn.MessageID())

	// the session stays usable
	h.backend.streamErr = nil
	next, err := h.ctrl.SendMessage(ctx, Input{Text: "again"})
	require.NoError(t, err)
	stream := h.backend.nextStream(t)
	stream.end()
	require.NoError(t, waitTurn(t, next))
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestSendMessage_AuthFailure(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)
	h.backend.streamErr = &domain.AuthError{}

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "q"})
	require.NoError(t, err)
	require.ErrorIs(t, waitTurn(t, turn), domain.ErrUnauthenticated)

	snap := h.ctrl.Snapshot()
	assert.True(t, snap.AuthRequired)
	assert.Equal(t, noticeAuthRequired, snap.Error)
}

func TestSendMessage_Validation(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ctrl.SendMessage(ctx, Input{Text: "hi"})
		assert.True(t, domain.IsValidation(err))
		assert.Zero(t, h.backend.streamCount())
		assert.Empty(t, h.ctrl.Snapshot().Messages)
	})

	t.Run("nothing to send", func(t *testing.T) {
		h := newHarness(t)
		h.open(t, NewSessionTarget)
		_, err := h.ctrl.SendMessage(ctx, Input{})
		assert.True(t, domain.IsValidation(err))
		assert.Len(t, h.ctrl.Snapshot().Messages, 1)
	})

	t.Run("after teardown", func(t *testing.T) {
		h := newHarness(t)
		h.open(t, NewSessionTarget)
		h.ctrl.Teardown()
		_, err := h.ctrl.SendMessage(ctx, Input{Text: "hi"})
		assert.True(t, domain.IsValidation(err))
	})
}

func TestSendMessage_AttachmentsAndAudio(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)
	h.ctrl.SetSections([]string{"hr"})

	atts := []domain.Attachment{{Data: "cGRm", MimeType: "application/pdf", Name: "a.pdf"}}
	turn, err := h.ctrl.SendMessage(ctx, Input{Attachments: atts, Audio: "UklGR"})
	require.NoError(t, err)

	stream := h.backend.nextStream(t)
	assert.Equal(t, []string{"hr"}, stream.req.Sections)
	require.Len(t, stream.req.Content, 3)
	assert.Equal(t, "", stream.req.Content[0].Text)
	assert.Equal(t, "application/pdf", stream.req.Content[1].Type)
	assert.Equal(t, "input_audio", stream.req.Content[2].Type)

	snap := h.ctrl.Snapshot()
	user := snap.Messages[1]
	assert.Equal(t, "Sent files: a.pdf", user.Text)
	assert.Equal(t, atts, user.Attachments)
	assert.Equal(t, "UklGR", user.AudioData)

	h.ctrl.Cancel()
	assert.Equal(t, domain.TurnAborted, turn.State())
}

func TestSubscribe_CoalescesSnapshots(t *testing.T) {
	h := newHarness(t)

	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	initial := <-updates
	assert.Equal(t, domain.StatusInitializing, initial.Status)

	// Open publishes several times; an idle reader only sees the latest
	h.open(t, NewSessionTarget)

	latest := <-updates
	assert.Equal(t, domain.StatusReady, latest.Status)
	assert.Len(t, latest.Messages, 1)

	select {
	case extra := <-updates:
		t.Fatalf("unexpected queued snapshot: %+v", extra)
	default:
	}

	h.ctrl.Teardown()
	_, ok := <-updates
	assert.False(t, ok, "teardown closes subscriptions")
}

func TestTeardown_DropsLateCompletions(t *testing.T) {
	h := newHarness(t)
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "q"})
	require.NoError(t, err)
	stream := h.backend.nextStream(t)

	h.ctrl.Teardown()
	assert.Equal(t, domain.TurnAborted, turn.State())

	before := h.ctrl.Snapshot()
	_ = stream.write(textFrame(t, "late"), idFrame(t, "m-late"))
	stream.end()

	after := h.ctrl.Snapshot()
	assert.Equal(t, before.Messages, after.Messages)
}

func TestArchive_StoresFinishedTurns(t *testing.T) {
	archive := &fakeArchive{}
	h := newHarness(t, func(o *Options) { o.Archive = archive })
	h.open(t, NewSessionTarget)

	turn, err := h.ctrl.SendMessage(ctx, Input{Text: "q"})
	require.NoError(t, err)
	stream := h.backend.nextStream(t)
	require.NoError(t, stream.write(textFrame(t, "answer"), idFrame(t, "m-1")))
	stream.end()
	require.NoError(t, waitTurn(t, turn))

	h.ctrl.Teardown()

	saved, err := archive.ListBySession(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "q", saved[0].Text)
	assert.Equal(t, "m-1", saved[1].ID)
}
