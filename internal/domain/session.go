package domain

import (
	"context"
	"io"
	"time"
)

// SessionStatus is the lifecycle state of a chat session
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusReady        SessionStatus = "ready"
	StatusError        SessionStatus = "error"
)

// TurnState is the state of the in-flight turn of a session
type TurnState string

const (
	TurnIdle              TurnState = "idle"
	TurnAwaitingFirstByte TurnState = "awaiting_first_byte"
	TurnStreaming         TurnState = "streaming"
	TurnFinalizing        TurnState = "finalizing"
	TurnCompleted         TurnState = "completed"
	TurnFailed            TurnState = "failed"
	TurnAborted           TurnState = "aborted"
)

// Terminal reports whether no further transition can happen
func (s TurnState) Terminal() bool {
	switch s {
	case TurnCompleted, TurnFailed, TurnAborted:
		return true
	}
	return false
}

// Snapshot is a read-only copy of a session for presentation
type Snapshot struct {
	SessionID    string        `json:"session_id"`
	Status       SessionStatus `json:"status"`
	Messages     []Message     `json:"messages"`
	IsLoading    bool          `json:"is_loading"`
	Error        string        `json:"error,omitempty"`
	TurnState    TurnState     `json:"turn_state"`
	AuthRequired bool          `json:"auth_required,omitempty"`
}

// ChatSession is a session summary as listed by the backend
type ChatSession struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ChatbotInfo is the chatbot metadata served by the backend
type ChatbotInfo struct {
	Sections       []string `json:"sections"`
	FilePermission bool     `json:"file_permission"`
	CompanyName    string   `json:"company_name,omitempty"`
	CompanyLogoURL string   `json:"company_logo_url,omitempty"`
	Version        string   `json:"version,omitempty"`
}

// ChatBackend is the subset of the backend API the session controller uses
type ChatBackend interface {
	CreateSession(ctx context.Context) (string, error)
	ListMessages(ctx context.Context, sessionID string) ([]HistoryMessage, error)
	OpenStream(ctx context.Context, sessionID string, req StreamRequest) (io.ReadCloser, error)
	SetFeedback(ctx context.Context, messageID string, liked *bool) error
	ReadAloud(ctx context.Context, messageID string) (*Blob, error)
	Export(ctx context.Context, messageID string) (*Blob, error)
}

// TranscriptRepository archives finished turns locally
type TranscriptRepository interface {
	SaveMessages(ctx context.Context, sessionID string, messages []Message) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// BlobCache caches binary payloads keyed by message id
type BlobCache interface {
	Get(ctx context.Context, kind, messageID string) (*Blob, error)
	Set(ctx context.Context, kind, messageID string, blob *Blob) error
}
