package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrAccountNotFound indicates no credential bundle is registered for the account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrCredentialsExhausted indicates both refresh paths failed; the account
	// needs fresh long-lived credentials before further calls can succeed.
	ErrCredentialsExhausted = errors.New("credential refresh exhausted")
)

// CredentialStore persists credential bundles keyed by account identity so
// they can survive process restarts. Implementations must be safe for
// concurrent use; all mutation flows through the Manager.
type CredentialStore interface {
	Load(ctx context.Context, account string) (Bundle, error)
	Save(ctx context.Context, account string, bundle Bundle) error
	Delete(ctx context.Context, account string) error
}

// NewMemoryStore returns a CredentialStore backed by an in-memory map.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bundles: make(map[string]Bundle)}
}

// MemoryStore implements CredentialStore for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[string]Bundle
}

// Load retrieves the bundle for an account.
func (s *MemoryStore) Load(_ context.Context, account string) (Bundle, error) {
	s.mu.RLock()
	bundle, ok := s.bundles[account]
	s.mu.RUnlock()
	if !ok {
		return Bundle{}, ErrAccountNotFound
	}
	return bundle, nil
}

// Save persists the bundle for an account.
func (s *MemoryStore) Save(_ context.Context, account string, bundle Bundle) error {
	s.mu.Lock()
	s.bundles[account] = bundle
	s.mu.Unlock()
	return nil
}

// Delete removes the account's bundle.
func (s *MemoryStore) Delete(_ context.Context, account string) error {
	s.mu.Lock()
	delete(s.bundles, account)
	s.mu.Unlock()
	return nil
}

// Has reports whether an account is registered. Useful for tests.
func (s *MemoryStore) Has(account string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bundles[account]
	return ok
}
