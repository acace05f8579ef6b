package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/Rrens/chatstream/internal/api/handler"
	customMiddleware "github.com/Rrens/chatstream/internal/api/middleware"
	"github.com/Rrens/chatstream/internal/attachment"
	"github.com/Rrens/chatstream/internal/config"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/repository/redis"
	"github.com/Rrens/chatstream/internal/session"
	"github.com/Rrens/chatstream/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the bridge serves
type Deps struct {
	Client      *transport.Client
	Credentials domain.CredentialStore
	Sessions    *session.Manager
	Gate        *attachment.Gate
	// Optional
	Archive     domain.TranscriptRepository
	RateLimiter *redis.RateLimiter
	Gatherer    prometheus.Gatherer
	Ready       map[string]handler.Pinger
	OnLogout    []func(ctx context.Context) error
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(deps.Client, deps.Sessions, deps.Gate, deps.OnLogout...)
	sessionHandler := handler.NewSessionHandler(deps.Sessions, deps.Archive)
	messageHandler := handler.NewMessageHandler(deps.Sessions, deps.Gate)
	feedHandler := handler.NewFeedHandler(deps.Sessions, originPatterns(cfg.Server.AllowedOrigins))
	fileHandler := handler.NewFileHandler(deps.Client)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready))
		if cfg.Metrics.Enabled && deps.Gatherer != nil {
			r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		}

		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
			}

			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)

			// Routes that need a stored login
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RequireLogin(deps.Credentials))

				r.Get("/auth/me", authHandler.Me)
				r.Get("/info", authHandler.Info)

				r.Route("/sessions", func(r chi.Router) {
					r.Post("/", sessionHandler.Create)

					r.Route("/{sessionID}", func(r chi.Router) {
						r.Get("/", sessionHandler.Get)
						r.Delete("/", sessionHandler.Delete)
						r.Post("/new", sessionHandler.StartNew)
						r.Get("/transcript", sessionHandler.Transcript)
						r.Get("/ws", feedHandler.Serve)

						r.Post("/messages", messageHandler.Send)
						r.Post("/cancel", messageHandler.Cancel)
						r.Route("/messages/{messageID}", func(r chi.Router) {
							r.Patch("/feedback", messageHandler.Feedback)
							r.Get("/audio", messageHandler.Audio)
							r.Get("/export", messageHandler.Export)
						})
					})
				})

				r.Route("/files", func(r chi.Router) {
					r.Get("/", fileHandler.List)
					r.Post("/", fileHandler.Upload)
					r.Delete("/{fileID}", fileHandler.Delete)
				})
			})
		})
	})

	return r
}

// originPatterns reduces allowed origins to the host patterns the
// WebSocket handshake matches against
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, strings.ToLower(u.Host))
		}
	}
	return out
}
