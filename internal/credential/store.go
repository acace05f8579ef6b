// Package credential holds the bearer token pair used by the transport.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/Rrens/chatstream/internal/security"
)

// MemoryStore keeps credentials for the lifetime of the process
type MemoryStore struct {
	mu    sync.RWMutex
	creds domain.Credentials
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) (domain.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, nil
}

func (s *MemoryStore) Set(_ context.Context, creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	return nil
}

func (s *MemoryStore) SetAccess(_ context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.Access = access
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = domain.Credentials{}
	return nil
}

// FileStore persists encrypted credentials to a single file so the CLI
// keeps its login between invocations
type FileStore struct {
	mu        sync.Mutex
	path      string
	encryptor *security.Encryptor
}

// NewFileStore creates a store backed by path
func NewFileStore(path string, encryptor *security.Encryptor) *FileStore {
	return &FileStore{path: path, encryptor: encryptor}
}

func (s *FileStore) Get(_ context.Context) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Set(_ context.Context, creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(creds)
}

func (s *FileStore) SetAccess(_ context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.read()
	if err != nil {
		return err
	}
	creds.Access = access
	return s.write(creds)
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

func (s *FileStore) read() (domain.Credentials, error) {
	var creds domain.Credentials

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
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

func (s *FileStore) write(creds domain.Credentials) error {
	sealed, err := s.encryptor.EncryptJSON(creds)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credentials: %w", err)
	}
	return nil
}
