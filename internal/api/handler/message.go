package handler

import (
	"net/http"

	"github.com/Rrens/chatstream/internal/api/response"
	"github.com/Rrens/chatstream/internal/attachment"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/go-chi/chi/v5"
)

// MessageHandler sends turns and relays feedback for open sessions
type MessageHandler struct {
	sessions *session.Manager
	gate     *attachment.Gate
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(sessions *session.Manager, gate *attachment.Gate) *MessageHandler {
	return &MessageHandler{sessions: sessions, gate: gate}
}

type attachmentInput struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data" validate:"required"`
}

type sendMessageRequest struct {
	Text        string            `json:"text"`
	Sections    []string          `json:"sections" validate:"max=16"`
	Attachments []attachmentInput `json:"attachments" validate:"max=10,dive"`
	// Audio is a base64 encoded WAV recording
	Audio string `json:"audio"`
}

type feedbackRequest struct {
	IsLiked *bool `json:"is_liked"`
}

// Send starts a turn. The reply streams into the session's snapshots.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	atts := make([]domain.Attachment, 0, len(req.Attachments))
	for _, in := range req.Attachments {
		a, err := attachment.FromBase64(in.Name, in.MimeType, in.Data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		atts = append(atts, a)
	}
	if err := h.gate.Policy().CheckAll(atts); err != nil {
		writeError(w, r, err)
		return
	}

	turn, err := ctrl.SendMessage(r.Context(), session.Input{
		Text:        req.Text,
		Attachments: atts,
		Audio:       req.Audio,
		Sections:    req.Sections,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Accepted(w, map[string]any{
		"turn_id":    turn.ID(),
		"message_id": turn.MessageID(),
		"session":    ctrl.Snapshot(),
	})
}

// Cancel aborts the turn in flight
func (h *MessageHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.Cancel()
	response.OK(w, ctrl.Snapshot())
}

// Feedback likes, dislikes or clears (null) feedback on a bot reply
func (h *MessageHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}

	if err := ctrl.SetFeedback(r.Context(), chi.URLParam(r, "messageID"), req.IsLiked); err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, ctrl.Snapshot())
}

// Audio returns the read-aloud rendition of a bot reply
func (h *MessageHandler) Audio(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	blob, err := ctrl.ReadAloud(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Blob(w, blob.ContentType, "", blob.Data)
}

// Export returns a bot reply as a document download
func (h *MessageHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	blob, err := ctrl.Export(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Blob(w, blob.ContentType, blob.FileName, blob.Data)
}

func (h *MessageHandler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctrl, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		response.NotFound(w, "session not open")
	}
	return ctrl, ok
}
