package mapstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

// MemoryFactory is an in-process Store implementation for local deployments
// and tests. TTL expiry is checked lazily on read.
type MemoryFactory struct {
	mu     sync.Mutex
	scopes map[string]*memoryStore
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{scopes: make(map[string]*memoryStore)}
}

func (f *MemoryFactory) Scope(scope Scope) Store {
	key := scope.Application.String() + "/" + scope.Name
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scopes[key]; ok {
		return s
	}
	s := &memoryStore{entries: make(map[string]memoryEntry)}
	f.scopes[key] = s
	return s
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	// reads/writes count backing-store round trips for cache tests.
	reads  int
	writes int
}

func (s *memoryStore) GetString(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	e, ok := s.entries[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		delete(s.entries, key)
		return "", errors.Newf(errors.ErrKeyNotFound, 404, "map key %s", key)
	}
	return e.value, nil
}

func (s *memoryStore) PutString(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.entries[key] = memoryEntry{value: value}
	return nil
}

func (s *memoryStore) PutStringTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) GetLong(ctx context.Context, key string) (int64, error) {
	value, err := s.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

func (s *memoryStore) PutLong(ctx context.Context, key string, value int64) error {
	return s.PutString(ctx, key, strconv.FormatInt(value, 10))
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Reads reports how many backing reads the store served.
func (s *memoryStore) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}

// Writes reports how many backing writes the store received.
func (s *memoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
