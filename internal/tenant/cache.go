package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Answer is a cached, definitive resolver answer.
type Answer struct {
	Slug       string `json:"slug,omitempty"`
	Registered bool   `json:"registered"`
}

// Cache stores resolver answers for a bounded time.
type Cache interface {
	Get(ctx context.Context, host string) (Answer, bool, error)
	Set(ctx context.Context, host string, a Answer, ttl time.Duration) error
}

type memoryEntry struct {
	answer  Answer
	expires time.Time
}

// DefaultMaxEntries caps a MemoryCache. Hosts come straight from request
// parameters, so the cache must not grow with attacker input.
const DefaultMaxEntries = 10000

// MemoryCache is a process-local Cache holding at most maxEntries hosts.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates an empty cache capped at DefaultMaxEntries.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithLimit(DefaultMaxEntries)
}

// NewMemoryCacheWithLimit creates an empty cache capped at maxEntries.
func NewMemoryCacheWithLimit(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, host string) (Answer, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[host]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return Answer{}, false, nil
	}
	return e.answer, true, nil
}

// Set implements Cache. When the cache is full, expired entries are dropped
// first and then the entry closest to expiry is evicted.
func (m *MemoryCache) Set(_ context.Context, host string, a Answer, ttl time.Duration) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[host]; !exists && len(m.entries) >= m.maxEntries {
		m.evictLocked(now)
	}
	m.entries[host] = memoryEntry{answer: a, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryCache) evictLocked(now time.Time) {
	var oldest string
	var oldestExpiry time.Time
	for host, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, host)
			continue
		}
		if oldest == "" || e.expires.Before(oldestExpiry) {
			oldest, oldestExpiry = host, e.expires
		}
	}
	if len(m.entries) >= m.maxEntries && oldest != "" {
		delete(m.entries, oldest)
	}
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryCache) Sweep(_ context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for host, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, host)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RedisKeyPrefix namespaces resolver answers in Redis.
const RedisKeyPrefix = "flexrz:auth:tenant-domain:"

// RedisCache shares answers between broker instances.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, RedisKeyPrefix), nil
}

// NewRedisCacheWithClient wraps a pre-configured client.
func NewRedisCacheWithClient(client redis.UniversalClient, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, host string) (Answer, bool, error) {
	raw, err := r.client.Get(ctx, r.keyPrefix+host).Bytes()
	if errors.Is(err, redis.Nil) {
		return Answer{}, false, nil
	}
	if err != nil {
		return Answer{}, false, fmt.Errorf("redis get: %w", err)
	}
	var a Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return Answer{}, false, fmt.Errorf("decoding cached answer: %w", err)
	}
	return a, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, host string, a Answer, ttl time.Duration) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding answer: %w", err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+host, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
