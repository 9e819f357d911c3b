package memstore

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore is the in-process counterpart of the Redis key store.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]idemEntry
}

type idemEntry struct {
	result    []byte
	expiresAt time.Time
}

// NewIdempotencyStore creates a store whose keys expire after ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{ttl: ttl, now: time.Now, entries: make(map[string]idemEntry)}
}

// Reserve claims key unless a live entry exists.
func (s *IdempotencyStore) Reserve(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && s.now().Before(e.expiresAt) {
		return e.result, false, nil
	}
	s.entries[key] = idemEntry{expiresAt: s.now().Add(s.ttl)}
	return nil, true, nil
}

// Complete stores the result for a reserved key.
func (s *IdempotencyStore) Complete(_ context.Context, key string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idemEntry{result: result, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Release forgets key so it can be retried.
func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
