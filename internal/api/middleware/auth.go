package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/Rrens/chatstream/internal/api/response"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/repository/redis"
	"github.com/rs/zerolog/log"
)

// CredentialReader reports the stored token pair
type CredentialReader interface {
	Get(ctx context.Context) (domain.Credentials, error)
}

// RequireLogin rejects requests while the bridge holds no tokens. Token
// validity is left to the backend; an expired pair surfaces as a 401 from
// the handler.
func RequireLogin(store CredentialReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := store.Get(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("Failed to read credentials")
				response.InternalError(w, "credential store unavailable")
				return
			}
			if creds.Empty() {
				response.Unauthorized(w, "login required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	rateLimiter *redis.RateLimiter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(rateLimiter *redis.RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{rateLimiter: rateLimiter}
}

// Limit applies rate limiting per client address. Run it after
// middleware.RealIP.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := m.rateLimiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			log.Warn().Err(err).Msg("Rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			response.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
