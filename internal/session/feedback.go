package session

import (
	"context"
	"fmt"

	"github.com/Rrens/chatstream/internal/domain"
)

// Blob kinds used as cache keys
const (
	BlobReadAloud = "read_aloud"
	BlobExport    = "export"
)

// SetFeedback likes (true), dislikes (false) or clears (nil) a bot reply.
// Only final replies accept feedback. Setting the current value is a
// no-op. The change is applied at once and rolled back if the backend
// rejects it.
func (c *Controller) SetFeedback(ctx context.Context, messageID string, liked *bool) error {
	c.mu.Lock()

	idx := c.indexLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		c.opts.Metrics.Feedback("rejected")
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	msg := &c.messages[idx]
	if !msg.FeedbackEligible() {
		if msg.Sender == domain.SenderBot && msg.Category == domain.CategoryTurn {
			c.setNoticeLocked(noticeNotFinal)
			c.publishLocked()
		}
		c.mu.Unlock()
		c.opts.Metrics.Feedback("rejected")
		return &domain.ValidationError{Reason: "feedback is only accepted on completed replies"}
	}

	if domain.SameLiked(msg.IsLiked, liked) {
		c.mu.Unlock()
		c.opts.Metrics.Feedback("noop")
		return nil
	}

	previous := msg.IsLiked
	msg.IsLiked = copyLiked(liked)
	epoch := c.epoch
	c.publishLocked()
	c.mu.Unlock()

	err := c.backend.SetFeedback(ctx, messageID, liked)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.opts.Metrics.Feedback("applied")
		return nil
	}

	c.opts.Metrics.Feedback("failed")
	c.log.Error().Err(err).Str("message_id", messageID).Msg("Failed to send feedback")

	if epoch != c.epoch {
		return err
	}
	// roll back unless a later call already changed the value again
	if idx := c.indexLocked(messageID); idx >= 0 && domain.SameLiked(c.messages[idx].IsLiked, liked) {
		c.messages[idx].IsLiked = previous
	}
	c.setNoticeLocked(noticeFeedbackFailed)
	c.publishLocked()
	return err
}

// ReadAloud returns synthesized speech for a final bot reply
func (c *Controller) ReadAloud(ctx context.Context, messageID string) (*domain.Blob, error) {
	return c.blob(ctx, BlobReadAloud, messageID, c.backend.ReadAloud)
}

// Export returns a final bot reply rendered as a document
func (c *Controller) Export(ctx context.Context, messageID string) (*domain.Blob, error) {
	return c.blob(ctx, BlobExport, messageID, c.backend.Export)
}

func (c *Controller) blob(ctx context.Context, kind, messageID string, fetch func(context.Context, string) (*domain.Blob, error)) (*domain.Blob, error) {
	c.mu.Lock()
	idx := c.indexLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	eligible := c.messages[idx].FeedbackEligible()
	c.mu.Unlock()

	if !eligible {
		return nil, &domain.ValidationError{Reason: "only completed replies can be read aloud or exported"}
	}

	if cache := c.opts.Blobs; cache != nil {
		blob, err := cache.Get(ctx, kind, messageID)
		if err != nil {
			c.log.Warn().Err(err).Str("kind", kind).Msg("Blob cache read failed")
		} else if blob != nil {
			return blob, nil
		}
	}

	blob, err := fetch(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if cache := c.opts.Blobs; cache != nil {
		if err := cache.Set(ctx, kind, messageID, blob); err != nil {
			c.log.Warn().Err(err).Str("kind", kind).Msg("Blob cache write failed")
		}
	}
	return blob, nil
}

func copyLiked(v *bool) *bool {
	if v == nil {
		return nil
	}
	b := *v
	return &b
}
