package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openArchive(t *testing.T) *TranscriptRepository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archive", "transcripts.db")
	require.NoError(t, RunMigrations(path))

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewTranscriptRepository(db)
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")

	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path), "second run is a no-op")

	version, dirty, err := MigrationVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, RollbackMigrations(path, 1))
	version, _, err = MigrationVersion(path)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestTranscriptRepository(t *testing.T) {
	repo := openArchive(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	liked := true

	turn := []domain.Message{
		{
			ID: "user-01", Sender: domain.SenderUser, Category: domain.CategoryTurn,
			Text: "Sent files: a.png", IsFinal: true, CreatedAt: at,
			Attachments: []domain.Attachment{{Name: "a.png", MimeType: "image/png", Data: "iVBO"}},
		},
		{
			ID: "42", Sender: domain.SenderBot, Category: domain.CategoryTurn,
			Text: "Here you go", IsFinal: true, CreatedAt: at.Add(time.Second),
			ChartData: json.RawMessage(`{"type":"bar"}`),
		},
	}
	require.NoError(t, repo.SaveMessages(ctx, "s-1", turn))
	require.NoError(t, repo.SaveMessages(ctx, "s-2", turn[:1]))

	turn[1].IsLiked = &liked
	require.NoError(t, repo.SaveMessages(ctx, "s-1", turn[1:]))

	got, err := repo.ListBySession(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, turn[0], got[0])
	assert.Equal(t, turn[1], got[1], "re-saving updates in place")

	limited, err := repo.ListBySession(ctx, "s-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, repo.DeleteSession(ctx, "s-1"))
	got, err = repo.ListBySession(ctx, "s-1", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := repo.ListBySession(ctx, "s-2", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
