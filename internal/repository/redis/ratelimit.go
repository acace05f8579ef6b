package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const rateLimitPrefix = "ratelimit:"

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a fixed one-minute window counter per key
type RateLimiter struct {
	client *Client
	limit  int
	clock  clockwork.Clock
}

// NewRateLimiter allows requestsPerMinute+burst requests per key and window
func NewRateLimiter(client *Client, requestsPerMinute, burst int, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		client: client,
		limit:  requestsPerMinute + burst,
		clock:  clock,
	}
}

// Allow counts a request against key
func (r *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	windowStart := r.clock.Now().Truncate(time.Minute)
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())

	pipe := r.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := int(incr.Val())
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= r.limit,
		Limit:     r.limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(time.Minute),
	}, nil
}
