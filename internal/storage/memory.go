package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/igwedaniel/sharkmon/internal/types"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// InMemoryStorage is used when no Redis URL is configured. Values are
// stored encoded so that reads behave like the Redis implementation.
type InMemoryStorage struct {
	mu      sync.RWMutex
	prefix  string
	ttl     time.Duration
	cache   map[string]memoryEntry
	watched string
	now     func() time.Time
}

func NewInMemoryStorage(prefix string, ttl time.Duration) *InMemoryStorage {
	if prefix == "" {
		prefix = "sharkmon"
	}
	return &InMemoryStorage{
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    ttl,
		cache:  make(map[string]memoryEntry),
		now:    time.Now,
	}
}

func (m *InMemoryStorage) SaveSnapshot(ctx context.Context, feed types.Feed, value interface{}) error {
	env, err := newEnvelope(value, m.now().UTC())
	if err != nil {
		return err
	}
	return m.SetCache(ctx, snapshotKey(m.prefix, feed), env, m.ttl)
}

func (m *InMemoryStorage) LoadSnapshot(ctx context.Context, feed types.Feed, dest interface{}) (time.Time, error) {
	var env envelope
	if err := m.GetCache(ctx, snapshotKey(m.prefix, feed), &env); err != nil {
		return time.Time{}, err
	}
	return env.decode(dest)
}

func (m *InMemoryStorage) SetWatchedAddress(ctx context.Context, address string) error {
	m.mu.Lock()
	m.watched = address
	m.mu.Unlock()
	return nil
}

func (m *InMemoryStorage) GetWatchedAddress(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watched, nil
}

func (m *InMemoryStorage) SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.cache[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *InMemoryStorage) GetCache(ctx context.Context, key string, dest interface{}) error {
	m.mu.RLock()
	entry, exists := m.cache[key]
	m.mu.RUnlock()
	if !exists {
		return ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.DeleteCache(ctx, key)
		return ErrCacheMiss
	}
	return sonic.Unmarshal(entry.data, dest)
}

func (m *InMemoryStorage) DeleteCache(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return nil
}

func (m *InMemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *InMemoryStorage) Close() error {
	return nil
}
