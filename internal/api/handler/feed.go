package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

// FeedHandler pushes session snapshots over a WebSocket
type FeedHandler struct {
	sessions       *session.Manager
	originPatterns []string
}

// NewFeedHandler creates a feed handler accepting the given origin host
// patterns
func NewFeedHandler(sessions *session.Manager, originPatterns []string) *FeedHandler {
	return &FeedHandler{sessions: sessions, originPatterns: originPatterns}
}

// Serve sends the current snapshot and every later one until the client
// goes away or the session is torn down. Intermediate snapshots may be
// skipped; the last one always arrives.
func (h *FeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, ok := h.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "session not open", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// the feed is one-way; CloseRead handles control frames and cancels
	// ctx once the peer closes
	ctx := conn.CloseRead(r.Context())

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("Feed write failed")
				return
			}
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeSnapshot(parent context.Context, conn *websocket.Conn, snap domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(parent, feedWriteTimeout)
	defer cancel()

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
