package handler

import (
	"net/http"
	"strconv"

	"github.com/Rrens/chatstream/internal/api/response"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/go-chi/chi/v5"
)

const defaultTranscriptLimit = 200

// SessionHandler exposes chat sessions and their controllers
type SessionHandler struct {
	sessions *session.Manager
	archive  domain.TranscriptRepository
}

// NewSessionHandler creates a new session handler. archive may be nil.
func NewSessionHandler(sessions *session.Manager, archive domain.TranscriptRepository) *SessionHandler {
	return &SessionHandler{sessions: sessions, archive: archive}
}

type openSessionRequest struct {
	SessionID string   `json:"session_id"`
	Sections  []string `json:"sections" validate:"max=16"`
}

// Create resumes the given session or creates a new one
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	ctrl, err := h.sessions.Open(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Sections) > 0 {
		ctrl.SetSections(req.Sections)
	}

	response.Created(w, ctrl.Snapshot())
}

// Get returns the snapshot of an open session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	response.OK(w, ctrl.Snapshot())
}

// Delete tears down an open session
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Close(chi.URLParam(r, "sessionID")) {
		response.NotFound(w, "session not open")
		return
	}
	response.NoContent(w)
}

// StartNew replaces the session with a freshly created one
func (h *SessionHandler) StartNew(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.sessions.StartNew(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, ctrl.Snapshot())
}

// Transcript returns the locally archived turns of a session
func (h *SessionHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		response.NotFound(w, "transcript archive is disabled")
		return
	}

	limit := defaultTranscriptLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	messages, err := h.archive.ListBySession(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	response.OK(w, messages)
}

func (h *SessionHandler) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctrl, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		response.NotFound(w, "session not open")
	}
	return ctrl, ok
}
