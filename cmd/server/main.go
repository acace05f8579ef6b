package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/chatstream/internal/api"
	"github.com/Rrens/chatstream/internal/app"
	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	_, logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Server failed")
		logCloser.Close()
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("backend", cfg.Backend.APIURL()).
		Msg("Starting chat bridge")

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// a stored login from a previous run may already grant file uploads
	if creds, err := a.Credentials.Get(ctx); err == nil && !creds.Empty() {
		if _, err := a.LoadInfo(ctx); err != nil && !errors.Is(err, domain.ErrUnauthenticated) {
			log.Warn().Err(err).Msg("Failed to load chatbot info")
		}
	}

	deps := api.Deps{
		Client:      a.Client,
		Credentials: a.Credentials,
		Sessions:    a.Sessions,
		Gate:        a.Gate,
		RateLimiter: a.RateLimiter,
		Gatherer:    a.Registry,
		Ready:       a.ReadyChecks(),
		OnLogout:    a.LogoutHooks(),
	}
	if a.Archive != nil {
		deps.Archive = a.Archive
	}

	// no write timeout: the snapshot feed is long-lived
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     api.NewRouter(cfg, deps),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		a.Sessions.CloseAll()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
