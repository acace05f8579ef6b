package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/security"
	"github.com/redis/go-redis/v9"
)

const credentialPrefix = "credentials:"

// CredentialStore keeps the encrypted token pair of one profile in Redis
// so several bridge instances share a login
type CredentialStore struct {
	client    *Client
	key       string
	encryptor *security.Encryptor
}

// NewCredentialStore creates a store for profile
func NewCredentialStore(client *Client, profile string, encryptor *security.Encryptor) *CredentialStore {
	return &CredentialStore{
		client:    client,
		key:       credentialPrefix + profile,
		encryptor: encryptor,
	}
}

func (s *CredentialStore) Get(ctx context.Context) (domain.Credentials, error) {
	var creds domain.Credentials

	data, err := s.client.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return creds, nil
	}
	if err != nil {
		return creds, fmt.Errorf("failed to read credentials: %w", err)
	}

	if err := s.encryptor.DecryptJSON(data, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to open credentials: %w", err)
	}
	return creds, nil
}

func (s *CredentialStore) Set(ctx context.Context, creds domain.Credentials) error {
	sealed, err := s.encryptor.EncryptJSON(creds)
	if err != nil {
		return err
	}
	if err := s.client.rdb.Set(ctx, s.key, sealed, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// SetAccess replaces the access token. The read-modify-write runs in a
// WATCH transaction so a concurrent Clear is not undone.
func (s *CredentialStore) SetAccess(ctx context.Context, access string) error {
	err := s.client.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, s.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var creds domain.Credentials
		if err := s.encryptor.DecryptJSON(data, &creds); err != nil {
			return err
		}
		creds.Access = access

		sealed, err := s.encryptor.EncryptJSON(creds)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, sealed, 0)
			return nil
		})
		return err
	}, s.key)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.client.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

var _ domain.CredentialStore = (*CredentialStore)(nil)
