package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	blobCachePrefix   = "blob:"
	defaultBlobTTL    = 10 * time.Minute
	blobScanBatchSize = 100
)

type cachedBlob struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

// BlobCache keeps read-aloud audio and exported documents so repeated
// requests for the same message skip the backend
type BlobCache struct {
	client *Client
	ttl    time.Duration
}

// NewBlobCache creates a cache whose entries expire after ttl
func NewBlobCache(client *Client, ttl time.Duration) *BlobCache {
	if ttl <= 0 {
		ttl = defaultBlobTTL
	}
	return &BlobCache{client: client, ttl: ttl}
}

func blobKey(kind, messageID string) string {
	return fmt.Sprintf("%s%s:%s", blobCachePrefix, kind, messageID)
}

// Get returns the cached blob, or nil on a miss
func (c *BlobCache) Get(ctx context.Context, kind, messageID string) (*domain.Blob, error) {
	data, err := c.client.rdb.Get(ctx, blobKey(kind, messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	var cached cachedBlob
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blob: %w", err)
	}

	return &domain.Blob{
		Data:        cached.Data,
		ContentType: cached.ContentType,
		FileName:    cached.FileName,
	}, nil
}

func (c *BlobCache) Set(ctx context.Context, kind, messageID string, blob *domain.Blob) error {
	data, err := json.Marshal(cachedBlob{
		Data:        blob.Data,
		ContentType: blob.ContentType,
		FileName:    blob.FileName,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal blob: %w", err)
	}

	return c.client.rdb.Set(ctx, blobKey(kind, messageID), data, c.ttl).Err()
}

// FlushAll removes every cached blob, e.g. after logout
func (c *BlobCache) FlushAll(ctx context.Context) (int64, error) {
	var cursor uint64
	var deleted int64

	for {
		keys, next, err := c.client.rdb.Scan(ctx, cursor, blobCachePrefix+"*", blobScanBatchSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			n, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += n
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

var _ domain.BlobCache = (*BlobCache)(nil)
