package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type feedbackCall struct {
	id    string
	liked *bool
}

// fakeBackend serves sessions from memory and hands every opened stream
// to the test through streams
type fakeBackend struct {
	mu            sync.Mutex
	nextSession   int
	history       map[string][]domain.HistoryMessage
	createErr     error
	streamErr     error
	feedbackErr   error
	feedbackCalls []feedbackCall
	blobCalls     int
	requests      []domain.StreamRequest

	// holdOpen, when set, blocks the next OpenStream until it is closed
	holdOpen chan struct{}
	// detachClose makes Close leave stream bodies readable
	detachClose bool

	streams chan *fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[string][]domain.HistoryMessage),
		streams: make(chan *fakeStream, 8),
	}
}

func (b *fakeBackend) CreateSession(_ context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.nextSession++
	return fmt.Sprintf("s-%d", b.nextSession), nil
}

func (b *fakeBackend) ListMessages(_ context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.history[sessionID]
	if !ok {
		return nil, &domain.TransportError{Status: 404, Detail: "Not found."}
	}
	return h, nil
}

func (b *fakeBackend) OpenStream(_ context.Context, _ string, req domain.StreamRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	err := b.streamErr
	hold := b.holdOpen
	b.holdOpen = nil
	detached := b.detachClose
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	s := &fakeStream{w: pw, body: &pipeBody{r: pr, detached: detached}, req: req}
	b.streams <- s
	return s.body, nil
}

func (b *fakeBackend) SetFeedback(_ context.Context, messageID string, liked *bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feedbackCalls = append(b.feedbackCalls, feedbackCall{id: messageID, liked: liked})
	return b.feedbackErr
}

func (b *fakeBackend) ReadAloud(_ context.Context, messageID string) (*domain.Blob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobCalls++
	return &domain.Blob{Data: []byte("RIFF" + messageID), ContentType: "audio/mpeg"}, nil
}

func (b *fakeBackend) Export(_ context.Context, messageID string) (*domain.Blob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobCalls++
	return &domain.Blob{Data: []byte("PK"), FileName: "message-" + messageID + ".docx"}, nil
}

func (b *fakeBackend) feedbackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feedbackCalls)
}

func (b *fakeBackend) streamCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBackend) nextStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-b.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never opened")
		return nil
	}
}

type pipeBody struct {
	r        *io.PipeReader
	detached bool
	mu       sync.Mutex
	closed   int
}

func (p *pipeBody) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipeBody) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	if p.detached {
		return nil
	}
	return p.r.Close()
}

func (p *pipeBody) isClosed() bool {
	return p.closeCount() > 0
}

func (p *pipeBody) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeStream struct {
	w    *io.PipeWriter
	body *pipeBody
	req  domain.StreamRequest
}

func (s *fakeStream) write(frames ...string) error {
	for _, f := range frames {
		if _, err := io.WriteString(s.w, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStream) end() {
	s.w.Close()
}

func frame(t *testing.T, v map[string]any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return "data: " + string(b) + "\n\n"
}

func textFrame(t *testing.T, s string) string {
	return frame(t, map[string]any{"type": "text", "content": s})
}

func idFrame(t *testing.T, id string) string {
	return frame(t, map[string]any{"type": "llm_message_id", "id": id})
}

type fakeArchive struct {
	mu    sync.Mutex
	saved map[string][]domain.Message
}

func (a *fakeArchive) SaveMessages(_ context.Context, sessionID string, messages []domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saved == nil {
		a.saved = make(map[string][]domain.Message)
	}
	a.saved[sessionID] = append(a.saved[sessionID], messages...)
	return nil
}

func (a *fakeArchive) ListBySession(_ context.Context, sessionID string, _ int) ([]domain.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saved[sessionID], nil
}

type fakeBlobCache struct {
	mu    sync.Mutex
	blobs map[string]*domain.Blob
}

func (c *fakeBlobCache) Get(_ context.Context, kind, messageID string) (*domain.Blob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blobs[kind+":"+messageID], nil
}

func (c *fakeBlobCache) Set(_ context.Context, kind, messageID string, blob *domain.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blobs == nil {
		c.blobs = make(map[string]*domain.Blob)
	}
	c.blobs[kind+":"+messageID] = blob
	return nil
}

type harness struct {
	backend *fakeBackend
	clock   *clockwork.FakeClock
	ctrl    *Controller
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()

	backend := newFakeBackend()
	clock := clockwork.NewFakeClock()
	opts := Options{Clock: clock}
	for _, fn := range configure {
		fn(&opts)
	}

	ctrl := New(backend, opts)
	t.Cleanup(ctrl.Teardown)

	return &harness{backend: backend, clock: clock, ctrl: ctrl}
}

func (h *harness) open(t *testing.T, target string) {
	t.Helper()
	require.NoError(t, h.ctrl.Open(context.Background(), target))
}

func (h *harness) lastMessage() domain.Message {
	snap := h.ctrl.Snapshot()
	return snap.Messages[len(snap.Messages)-1]
}

func waitTurn(t *testing.T, turn *Turn) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := turn.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "turn did not finish")
	return err
}

func abortCount(turn *Turn) int {
	turn.ctrl.mu.Lock()
	defer turn.ctrl.mu.Unlock()
	return turn.aborts
}

func boolPtr(v bool) *bool { return &v }
