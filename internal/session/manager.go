package session

import (
	"context"
	"sync"

	"github.com/Rrens/chatstream/internal/domain"
)

// Manager keeps one controller per open session
type Manager struct {
	backend domain.ChatBackend
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewManager creates an empty manager. Every controller it opens shares
// opts, including one section catalog.
func NewManager(backend domain.ChatBackend, opts Options) *Manager {
	if opts.Catalog == nil {
		opts.Catalog = NewSectionCatalog()
	}
	return &Manager{
		backend:  backend,
		opts:     opts,
		sessions: make(map[string]*Controller),
	}
}

// Open resumes or creates a session and registers its controller under
// the resolved session id. A controller already registered for that id
// is torn down.
func (m *Manager) Open(ctx context.Context, target string) (*Controller, error) {
	c := New(m.backend, m.opts)
	if err := c.Open(ctx, target); err != nil {
		c.Teardown()
		return nil, err
	}

	m.mu.Lock()
	id := c.SessionID()
	old := m.sessions[id]
	m.sessions[id] = c
	m.mu.Unlock()

	if old != nil {
		old.Teardown()
		m.opts.Metrics.SessionClosed()
	}
	m.opts.Metrics.SessionOpened()
	return c, nil
}

// Get returns the controller of an open session
func (m *Manager) Get(sessionID string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[sessionID]
	return c, ok
}

// StartNew replaces the session behind sessionID with a new one on the
// same controller, so subscribers keep receiving snapshots
func (m *Manager) StartNew(ctx context.Context, sessionID string) (*Controller, error) {
	c, ok := m.Get(sessionID)
	if !ok {
		return nil, domain.ErrNotFound
	}

	err := c.StartNewSession(ctx)

	m.mu.Lock()
	if m.sessions[sessionID] == c {
		delete(m.sessions, sessionID)
	}
	if err == nil {
		m.sessions[c.SessionID()] = c
	}
	m.mu.Unlock()

	if err != nil {
		c.Teardown()
		m.opts.Metrics.SessionClosed()
		return nil, err
	}
	return c, nil
}

// Close tears down one session. It reports whether the session was open.
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	c, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		c.Teardown()
		m.opts.Metrics.SessionClosed()
	}
	return ok
}

// CloseAll tears down every session, e.g. on logout or shutdown
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range sessions {
		c.Teardown()
		m.opts.Metrics.SessionClosed()
	}
}

// ApplyInfo makes the chatbot's sections available to every session
func (m *Manager) ApplyInfo(info *domain.ChatbotInfo) {
	if info == nil {
		return
	}
	m.opts.Catalog.SetAvailable(info.Sections)
}

// Sections returns the catalog shared by the manager's sessions
func (m *Manager) Sections() *SectionCatalog {
	return m.opts.Catalog
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
