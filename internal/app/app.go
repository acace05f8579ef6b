// Package app assembles the chat client from configuration. The bridge
// server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Rrens/chatstream/internal/api/handler"
	"github.com/Rrens/chatstream/internal/attachment"
	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/credential"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/logger"
	"github.com/Rrens/chatstream/internal/metrics"
	"github.com/Rrens/chatstream/internal/repository/postgres"
	"github.com/Rrens/chatstream/internal/repository/redis"
	"github.com/Rrens/chatstream/internal/repository/sqlite"
	"github.com/Rrens/chatstream/internal/security"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/Rrens/chatstream/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// App holds the wired components
type App struct {
	Config      *config.Config
	Client      *transport.Client
	Credentials domain.CredentialStore
	Sessions    *session.Manager
	Gate        *attachment.Gate
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics

	// nil unless enabled in config
	Redis       *redis.Client
	Blobs       *redis.BlobCache
	RateLimiter *redis.RateLimiter
	ArchiveDB   handler.Pinger
	Archive     domain.TranscriptRepository

	closers []io.Closer
}

// New connects the optional stores and builds the client stack
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Gate:     attachment.NewGate(attachment.NewPolicy(cfg.Attachments)),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(a.Registry)
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.closers = append(a.closers, client)
		a.Blobs = redis.NewBlobCache(client, cfg.Redis.BlobTTL)
		a.RateLimiter = redis.NewRateLimiter(client, cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst, nil)
	}

	store, err := a.credentialStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Credentials = store

	if cfg.Archive.Enabled {
		if err := a.openArchive(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Client = transport.NewClient(a.Credentials, transport.Options{
		BaseURL:       cfg.Backend.APIURL(),
		Timeout:       cfg.Backend.RequestTimeout,
		RefreshLeeway: cfg.Backend.RefreshLeeway,
		Metrics:       a.Metrics,
		Logger:        logger.Component("transport"),
	})

	opts := session.OptionsFromConfig(cfg.Chat)
	opts.Metrics = a.Metrics
	opts.Logger = logger.Component("session")
	if a.Archive != nil {
		opts.Archive = a.Archive
	}
	if a.Blobs != nil {
		opts.Blobs = a.Blobs
	}
	a.Sessions = session.NewManager(a.Client, opts)

	return a, nil
}

func (a *App) openArchive(ctx context.Context) error {
	cfg := a.Config.Archive

	switch cfg.Driver {
	case "", "sqlite":
		if err := sqlite.RunMigrations(cfg.Path); err != nil {
			return err
		}
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return err
		}
		a.ArchiveDB = db
		a.closers = append(a.closers, db)
		a.Archive = sqlite.NewTranscriptRepository(db)
	case "postgres":
		if err := postgres.RunMigrations(cfg.DSN); err != nil {
			return err
		}
		db, err := postgres.NewDB(ctx, cfg)
		if err != nil {
			return err
		}
		a.ArchiveDB = db
		a.closers = append(a.closers, db)
		a.Archive = postgres.NewTranscriptRepository(db.Pool)
	default:
		return fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
	return nil
}

func (a *App) credentialStore() (domain.CredentialStore, error) {
	cfg := a.Config.Credentials
	if cfg.Store == "memory" || cfg.Store == "" {
		return credential.NewMemoryStore(), nil
	}

	enc, err := security.NewEncryptorFromSecret(cfg.Secret, cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to set up credential encryption: %w", err)
	}

	switch cfg.Store {
	case "file":
		return credential.NewFileStore(cfg.File, enc), nil
	case "redis":
		if a.Redis == nil {
			return nil, errors.New("redis credential store requires redis.enabled")
		}
		return redis.NewCredentialStore(a.Redis, cfg.Profile, enc), nil
	}
	return nil, fmt.Errorf("unknown credential store %q", cfg.Store)
}

// LoadInfo fetches the chatbot info and applies its file permission and
// sections
func (a *App) LoadInfo(ctx context.Context) (*domain.ChatbotInfo, error) {
	info, err := a.Client.Info(ctx)
	if err != nil {
		return nil, err
	}
	a.Gate.Apply(info)
	a.Sessions.ApplyInfo(info)
	return info, nil
}

// ReadyChecks lists the stores the bridge depends on
func (a *App) ReadyChecks() map[string]handler.Pinger {
	checks := make(map[string]handler.Pinger)
	if a.Redis != nil {
		checks["redis"] = a.Redis
	}
	if a.ArchiveDB != nil {
		checks["archive"] = a.ArchiveDB
	}
	return checks
}

// LogoutHooks drops state tied to the logged-out account
func (a *App) LogoutHooks() []func(ctx context.Context) error {
	if a.Blobs == nil {
		return nil
	}
	return []func(ctx context.Context) error{
		func(ctx context.Context) error {
			n, err := a.Blobs.FlushAll(ctx)
			log.Debug().Int64("keys", n).Msg("Flushed blob cache")
			return err
		},
	}
}

// Close tears down every session and releases the stores
func (a *App) Close() error {
	if a.Sessions != nil {
		a.Sessions.CloseAll()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
