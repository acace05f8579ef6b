package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
)

// Login exchanges email and password for a token pair and stores it
func (c *Client) Login(ctx context.Context, login domain.UserLogin) (domain.Credentials, error) {
	r, err := jsonRequest(http.MethodPost, loginPath, login)
	if err != nil {
		return domain.Credentials{}, err
	}
	r.public = true

	var creds domain.Credentials
	if err := c.call(ctx, r, &creds); err != nil {
		return domain.Credentials{}, err
	}
	if creds.Access == "" || creds.Refresh == "" {
		return domain.Credentials{}, errors.New("login response carried no tokens")
	}

	if err := c.store.Set(ctx, creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to store credentials: %w", err)
	}
	return creds, nil
}

// Logout forgets the stored tokens
func (c *Client) Logout(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	r, _ := jsonRequest(http.MethodGet, "auth/users/me/", nil)

	var user domain.User
	if err := c.call(ctx, r, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Info returns the chatbot metadata
func (c *Client) Info(ctx context.Context) (*domain.ChatbotInfo, error) {
	r, _ := jsonRequest(http.MethodGet, "info/", nil)

	var info domain.ChatbotInfo
	if err := c.call(ctx, r, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateSession creates a chat session and returns its id
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	r, _ := jsonRequest(http.MethodPost, "chat/sessions/", nil)

	var out struct {
		ID json.RawMessage `json:"id"`
	}
	if err := c.call(ctx, r, &out); err != nil {
		return "", err
	}

	id := domain.RawID(out.ID)
	if id == "" {
		return "", errors.New("create session response carried no id")
	}
	return id, nil
}

type sessionDTO struct {
	ID        json.RawMessage `json:"id"`
	Title     string          `json:"title"`
	CreatedAt *time.Time      `json:"created_at"`
	UpdatedAt *time.Time      `json:"updated_at"`
}

// ListSessions lists the user's sessions
func (c *Client) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	r, _ := jsonRequest(http.MethodGet, "chat/sessions/", nil)

	var raw json.RawMessage
	if err := c.call(ctx, r, &raw); err != nil {
		return nil, err
	}

	dtos, err := decodeList[sessionDTO](raw)
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.ChatSession, 0, len(dtos))
	for _, d := range dtos {
		sessions = append(sessions, domain.ChatSession{
			ID:        domain.RawID(d.ID),
			Title:     d.Title,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	return sessions, nil
}

// ListMessages returns the persisted history of a session
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	r, _ := jsonRequest(http.MethodGet, "chat/sessions/"+url.PathEscape(sessionID)+"/messages/", nil)

	var raw json.RawMessage
	if err := c.call(ctx, r, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.HistoryMessage](raw)
}

// OpenStream posts a user turn and returns the event stream body. The
// caller must close it; cancelling ctx also ends the stream.
func (c *Client) OpenStream(ctx context.Context, sessionID string, payload domain.StreamRequest) (io.ReadCloser, error) {
	if sessionID == "" {
		return nil, &domain.ValidationError{Reason: "session id is required for streaming"}
	}

	r, err := jsonRequest(http.MethodPost, "chat/sessions/"+url.PathEscape(sessionID)+"/stream/", payload)
	if err != nil {
		return nil, err
	}
	r.accept = "text/event-stream"

	resp, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, readTransportError(resp)
	}

	if ct := resp.Header.Get("Content-Type"); !isEventStream(ct) {
		drain(resp)
		return nil, &domain.ContentTypeError{ContentType: ct}
	}

	return resp.Body, nil
}

// SetFeedback sets or clears the like flag of a message
func (c *Client) SetFeedback(ctx context.Context, messageID string, liked *bool) error {
	r, err := jsonRequest(http.MethodPatch, "chat/messages/"+url.PathEscape(messageID)+"/feedback/", domain.FeedbackRequest{IsLiked: liked})
	if err != nil {
		return err
	}
	return c.call(ctx, r, nil)
}

// ReadAloud returns synthesized speech for a message
func (c *Client) ReadAloud(ctx context.Context, messageID string) (*domain.Blob, error) {
	return c.fetch(ctx, "chat/messages/"+url.PathEscape(messageID)+"/read_aloud/")
}

// Export returns a message rendered as a document
func (c *Client) Export(ctx context.Context, messageID string) (*domain.Blob, error) {
	blob, err := c.fetch(ctx, "chat/messages/"+url.PathEscape(messageID)+"/export/")
	if err != nil {
		return nil, err
	}
	if blob.FileName == "" {
		blob.FileName = fmt.Sprintf("message-%s.docx", messageID)
	}
	return blob, nil
}

// ListFiles lists documents uploaded to the chatbot
func (c *Client) ListFiles(ctx context.Context) ([]domain.RemoteFile, error) {
	r, _ := jsonRequest(http.MethodGet, "files/", nil)

	var raw json.RawMessage
	if err := c.call(ctx, r, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.RemoteFile](raw)
}

// UploadFile uploads a document as multipart form data
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader) (*domain.RemoteFile, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	r := request{
		method:      http.MethodPost,
		path:        "files/upload/",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		accept:      "application/json",
	}

	var file domain.RemoteFile
	if err := c.call(ctx, r, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// DeleteFile removes an uploaded document
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	r, _ := jsonRequest(http.MethodDelete, "files/"+url.PathEscape(fileID)+"/", nil)
	return c.call(ctx, r, nil)
}

// decodeList accepts a bare JSON array or a paginated {"results": [...]}
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '{' {
		var page struct {
			Results []T `json:"results"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return page.Results, nil
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return items, nil
}

var _ domain.ChatBackend = (*Client)(nil)
