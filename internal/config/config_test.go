package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rrens/chatstream/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.Chat.StreamTimeout)
	assert.Equal(t, 3*time.Second, cfg.Chat.NoticeTTL)
	assert.Empty(t, cfg.Chat.DefaultSections)
	assert.Equal(t, "memory", cfg.Credentials.Store)
	assert.Equal(t, "sqlite", cfg.Archive.Driver)
	assert.Equal(t, "http://127.0.0.1:8000/api/", cfg.Backend.APIURL())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
backend:
  base_url: https://chat.example.com
chat:
  stream_timeout: 45s
  default_sections: [billing, support]
credentials:
  store: file
  secret: file-secret
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/api/", cfg.Backend.APIURL())
	assert.Equal(t, 45*time.Second, cfg.Chat.StreamTimeout)
	assert.Equal(t, []string{"billing", "support"}, cfg.Chat.DefaultSections)
	assert.Equal(t, "file", cfg.Credentials.Store)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := config.Load()
	require.NoError(t, err)

	t.Run("file store without secret", func(t *testing.T) {
		c := *cfg
		c.Credentials.Store = "file"
		c.Credentials.Secret = ""
		assert.Error(t, c.Validate())
	})

	t.Run("redis store without redis", func(t *testing.T) {
		c := *cfg
		c.Credentials.Store = "redis"
		c.Credentials.Secret = "s"
		c.Redis.Enabled = false
		assert.Error(t, c.Validate())
	})

	t.Run("postgres archive without dsn", func(t *testing.T) {
		c := *cfg
		c.Archive.Enabled = true
		c.Archive.Driver = "postgres"
		c.Archive.DSN = ""
		assert.Error(t, c.Validate())
	})

	t.Run("unknown archive driver", func(t *testing.T) {
		c := *cfg
		c.Archive.Driver = "mongo"
		assert.Error(t, c.Validate())
	})

	t.Run("unknown log level", func(t *testing.T) {
		c := *cfg
		c.Logging.Level = "loud"
		assert.Error(t, c.Validate())
	})
}
