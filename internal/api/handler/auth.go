package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/Rrens/chatstream/internal/api/response"
	"github.com/Rrens/chatstream/internal/attachment"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/rs/zerolog/log"
)

// Account is the part of the backend client that manages the login
type Account interface {
	Login(ctx context.Context, login domain.UserLogin) (domain.Credentials, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*domain.User, error)
	Info(ctx context.Context) (*domain.ChatbotInfo, error)
}

// AuthHandler handles login, logout and chatbot info
type AuthHandler struct {
	account  Account
	sessions *session.Manager
	gate     *attachment.Gate
	onLogout []func(ctx context.Context) error
}

// NewAuthHandler creates a new auth handler. onLogout hooks run after the
// credentials are cleared, e.g. to flush cached blobs.
func NewAuthHandler(account Account, sessions *session.Manager, gate *attachment.Gate, onLogout ...func(ctx context.Context) error) *AuthHandler {
	return &AuthHandler{
		account:  account,
		sessions: sessions,
		gate:     gate,
		onLogout: onLogout,
	}
}

// Login exchanges email and password for a token pair held by the bridge
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input domain.UserLogin
	if !decode(w, r, &input) {
		return
	}

	if _, err := h.account.Login(r.Context(), input); err != nil {
		var transportErr *domain.TransportError
		if errors.As(err, &transportErr) && transportErr.Status == http.StatusUnauthorized {
			response.Unauthorized(w, transportErr.Message())
			return
		}
		writeError(w, r, err)
		return
	}

	// the permission decides whether uploads are accepted, the sections
	// what each turn searches
	if info, err := h.account.Info(r.Context()); err == nil {
		h.applyInfo(info)
	} else {
		log.Warn().Err(err).Msg("Failed to load chatbot info after login")
	}

	response.OK(w, map[string]any{"email": input.Email})
}

// Logout clears the tokens and tears down every open session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.CloseAll()

	if err := h.account.Logout(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	for _, hook := range h.onLogout {
		if err := hook(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Logout hook failed")
		}
	}

	response.NoContent(w)
}

// Me returns the logged-in user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.account.Me(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, user)
}

// Info returns the chatbot metadata
func (h *AuthHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.account.Info(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.applyInfo(info)
	response.OK(w, info)
}

func (h *AuthHandler) applyInfo(info *domain.ChatbotInfo) {
	h.gate.Apply(info)
	h.sessions.ApplyInfo(info)
}
