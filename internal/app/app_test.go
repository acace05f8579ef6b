package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/credential"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Backend:     config.BackendConfig{BaseURL: "http://127.0.0.1:1", APIPrefix: "/api/"},
		Credentials: config.CredentialsConfig{Store: "memory", Profile: "test", File: filepath.Join(dir, "creds")},
		Archive:     config.ArchiveConfig{Path: filepath.Join(dir, "transcripts.db")},
		Attachments: config.AttachmentsConfig{MaxBytes: 1 << 20, Allowed: []string{"image/*"}},
		Metrics:     config.MetricsConfig{Enabled: true},
	}
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.IsType(t, &credential.MemoryStore{}, a.Credentials)
	assert.NotNil(t, a.Metrics)
	assert.Nil(t, a.Archive)
	assert.Nil(t, a.Redis)
	assert.Empty(t, a.ReadyChecks())
	assert.Empty(t, a.LogoutHooks())
	assert.False(t, a.Gate.Policy().FilesEnabled)
}

func TestNew_FileStoreAndArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.Store = "file"
	cfg.Credentials.Secret = "s3cret"
	cfg.Archive.Enabled = true

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx := context.Background()
	require.NoError(t, a.Credentials.Set(ctx, domain.Credentials{Access: "a", Refresh: "r"}))
	creds, err := a.Credentials.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r", creds.Refresh)

	require.NotNil(t, a.Archive)
	assert.Contains(t, a.ReadyChecks(), "archive")
	require.NoError(t, a.ReadyChecks()["archive"].Ping(ctx))
}

func TestNew_RedisStoreNeedsRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.Store = "redis"
	cfg.Credentials.Secret = "s3cret"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_UnknownArchiveDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = true
	cfg.Archive.Driver = "mongo"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown archive driver")
}
