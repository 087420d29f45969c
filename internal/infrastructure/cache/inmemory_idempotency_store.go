package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
)

const janitorInterval = 5 * time.Minute

type seenEntry struct {
	expiresAt time.Time
}

// InMemoryIdempotencyStore implements IdempotencyStore with a map guarded by
// a mutex. Suitable for single-instance deployments and tests; a multi-node
// deployment needs the Redis store so all instances share the seen set.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	seen      map[string]seenEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryIdempotencyStore creates the store and starts its janitor
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		seen:     make(map[string]seenEntry),
		stopChan: make(chan struct{}),
	}
	store.wg.Add(1)
	go store.janitor()
	return store
}

// MarkProcessed claims an identity. Returns true when this caller won the
// claim, false when the identity was already seen and has not expired.
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.seen[id]; exists && time.Now().Before(e.expiresAt) {
		return false, nil
	}
	s.seen[id] = seenEntry{expiresAt: time.Now().Add(ttl)}
	return true, nil
}

// IsProcessed checks whether an identity has already been seen
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.seen[id]
	if !exists || time.Now().After(e.expiresAt) {
		return false, nil
	}
	return true, nil
}

// Close stops the janitor. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) janitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, e := range s.seen {
		if now.After(e.expiresAt) {
			delete(s.seen, id)
		}
	}
}

// Size returns the number of tracked identities, for tests and monitoring
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Ensure InMemoryIdempotencyStore implements IdempotencyStore
var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
