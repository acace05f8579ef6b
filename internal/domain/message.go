package domain

import (
	"encoding/json"
	"time"
)

// Sender identifies who produced a message
type Sender string

const (
	SenderUser  Sender = "user"
	SenderBot   Sender = "bot"
	SenderError Sender = "error"
)

// Category tags a message at construction time. Feedback eligibility is
// decided from it, never from the shape of the id.
type Category string

const (
	CategoryGreeting Category = "greeting"
	CategoryTurn     Category = "turn"
	CategoryError    Category = "error"
)

// Attachment is a file sent along with a user message
type Attachment struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mime_type"`
	Name     string `json:"name"`
}

// Message represents one chat turn as seen by the client
type Message struct {
	ID          string          `json:"id"`
	Sender      Sender          `json:"sender"`
	Category    Category        `json:"category"`
	Text        string          `json:"text"`
	IsFinal     bool            `json:"is_final"`
	IsLiked     *bool           `json:"is_liked"`
	ChartData   json.RawMessage `json:"chart_data,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	AudioData   string          `json:"audio_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FeedbackEligible reports whether like/dislike may be set on the message
func (m *Message) FeedbackEligible() bool {
	return m.Sender == SenderBot && m.Category == CategoryTurn && m.IsFinal
}

// Clone returns a deep copy safe to hand to readers
func (m Message) Clone() Message {
	out := m
	if m.IsLiked != nil {
		v := *m.IsLiked
		out.IsLiked = &v
	}
	if m.ChartData != nil {
		out.ChartData = append(json.RawMessage(nil), m.ChartData...)
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return out
}

// SameLiked compares two tri-state feedback values
func SameLiked(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// HistoryMessage is a persisted message as returned by the backend
type HistoryMessage struct {
	ID          json.RawMessage `json:"id"`
	SenderType  string          `json:"sender_type"`
	JSONContent []ContentPart   `json:"json_content"`
	Content     *string         `json:"content"`
	IsLiked     *bool           `json:"is_liked"`
	ChartData   json.RawMessage `json:"chart_data"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
}

// FeedbackRequest is the body of the feedback PATCH call
type FeedbackRequest struct {
	IsLiked *bool `json:"is_liked"`
}

// Blob is a binary payload returned by the backend (speech audio, export)
type Blob struct {
	Data        []byte
	ContentType string
	FileName    string
}
