package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(messages ...domain.Message) domain.Snapshot {
	return domain.Snapshot{Messages: messages}
}

func TestStreamPrinter(t *testing.T) {
	user := domain.Message{Sender: domain.SenderUser, Text: "hi"}
	bot := func(text string) domain.Message { return domain.Message{Sender: domain.SenderBot, Text: text} }

	var out bytes.Buffer
	p := &streamPrinter{out: &out, index: 1}

	p.update(snapshotWith(user, bot("")))
	p.update(snapshotWith(user, bot("Hel")))
	p.update(snapshotWith(user, bot("Hello")))
	p.update(snapshotWith(user, bot("Hello")))
	assert.Equal(t, "Hello", out.String())

	p.update(snapshotWith(user, domain.Message{Sender: domain.SenderError, Text: "Error: boom"}))
	assert.Equal(t, "Hello\nError: boom", out.String())

	p.update(snapshotWith(user))
	assert.Equal(t, "Hello\nError: boom", out.String(), "removed placeholder prints nothing")
}

func TestLikedMark(t *testing.T) {
	assert.Equal(t, "", likedMark(nil))
	assert.Equal(t, " +1", likedMark(boolPtr(true)))
	assert.Equal(t, " -1", likedMark(boolPtr(false)))
}

func TestPrintMessages(t *testing.T) {
	var out bytes.Buffer
	printMessages(&out, []domain.Message{
		{Sender: domain.SenderUser, Text: "q"},
		{ID: "7", Sender: domain.SenderBot, Text: "a", IsLiked: boolPtr(true)},
		{Sender: domain.SenderError, Text: "Error: x"},
	})
	assert.Equal(t, "you> q\nbot [7] +1> a\n!! Error: x\n", out.String())
}

func TestRootCommandTree(t *testing.T) {
	root, cleanup := newRootCmd()
	defer cleanup()

	for _, name := range []string{"login", "logout", "whoami", "info", "sessions", "history", "chat", "feedback", "export", "speak", "files"} {
		cmd, _, err := root.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, cmd.Name())
		}
	}

	root.SetArgs([]string{"feedback", "1", "2"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute(), "rating argument is required")
}

func TestChat_UnknownSession(t *testing.T) {
	var created, streamed atomic.Int32
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/jwt/create/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(domain.Credentials{Access: "access-1", Refresh: "refresh-1"})
		})
		r.Post("/chat/sessions/", func(w http.ResponseWriter, r *http.Request) {
			created.Add(1)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"id": "s-new"})
		})
		r.Get("/chat/sessions/{id}/messages/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not found."}`))
		})
		r.Post("/chat/sessions/{id}/stream/", func(w http.ResponseWriter, r *http.Request) {
			streamed.Add(1)
			w.WriteHeader(http.StatusNotFound)
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "backend:\n  base_url: " + srv.URL + "\ncredentials:\n  file: " + filepath.Join(dir, "credentials") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CREDENTIAL_SECRET", "s3cret")

	run := func(args ...string) (string, error) {
		root, cleanup := newRootCmd()
		defer cleanup()
		var out bytes.Buffer
		root.SetArgs(args)
		root.SetOut(&out)
		root.SetErr(&out)
		err := root.Execute()
		return out.String(), err
	}

	_, err := run("login", "-e", "a@example.com", "-p", "pw")
	require.NoError(t, err)

	out, err := run("chat", "--session", "missing", "hello")
	require.Error(t, err)
	assert.Equal(t, "session missing not found", err.Error())
	assert.NotContains(t, out, "session s-new")
	assert.Zero(t, created.Load(), "no session is created for an unknown id")
	assert.Zero(t, streamed.Load())
}
