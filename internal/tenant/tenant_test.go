package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/flexrz/auth-broker/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "birdie-golf.co.uk", NormalizeHost(" Birdie-Golf.co.uk:443 "))
	assert.Equal(t, "birdie-golf.co.uk", NormalizeHost("birdie-golf.co.uk."))
	assert.Equal(t, "", NormalizeHost(""))
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(map[string]string{"Birdie-Golf.co.uk": "birdie-golf", "empty.example": ""})
	ctx := context.Background()

	got, err := r.Resolve(ctx, "birdie-golf.co.uk")
	require.NoError(t, err)
	assert.Equal(t, Tenant{Slug: "birdie-golf", Domain: "birdie-golf.co.uk"}, got)

	_, err = r.Resolve(ctx, "empty.example")
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = r.Resolve(ctx, "evil.example.com")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, domain string)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ResolvePath, r.URL.Path)
		handler(w, r.URL.Query().Get("domain"))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPResolver(t *testing.T) {
	server := newBackend(t, func(w http.ResponseWriter, domain string) {
		switch domain {
		case "birdie-golf.co.uk":
			_ = json.NewEncoder(w).Encode(map[string]string{"slug": "birdie-golf"})
		case "legacy.example":
			_ = json.NewEncoder(w).Encode(map[string]string{"tenantSlug": "legacy"})
		case "blank.example":
			_ = json.NewEncoder(w).Encode(map[string]string{"slug": "  "})
		case "broken.example":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		case "garbage.example":
			_, _ = w.Write([]byte("<html>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	r, err := NewHTTPResolver(server.URL, nil)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := r.Resolve(ctx, "Birdie-Golf.co.uk")
	require.NoError(t, err)
	assert.Equal(t, "birdie-golf", got.Slug)
	assert.Equal(t, "birdie-golf.co.uk", got.Domain)

	got, err = r.Resolve(ctx, "legacy.example")
	require.NoError(t, err)
	assert.Equal(t, "legacy", got.Slug)

	_, err = r.Resolve(ctx, "blank.example")
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = r.Resolve(ctx, "unknown.example")
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = r.Resolve(ctx, "broken.example")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRegistered)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream down")

	_, err = r.Resolve(ctx, "garbage.example")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRegistered)
}

func TestNewHTTPResolverValidation(t *testing.T) {
	_, err := NewHTTPResolver("", nil)
	assert.Error(t, err)
	_, err = NewHTTPResolver("not a url", nil)
	assert.Error(t, err)
}

func TestNewFirestoreResolverValidation(t *testing.T) {
	ctx := context.Background()
	_, err := NewFirestoreResolver(ctx, "", "(default)", "tenant_domains")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projectID is required")

	_, err = NewFirestoreResolver(ctx, "project", "(default)", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection is required")
}

type countingResolver struct {
	calls   atomic.Int32
	resolve func(ctx context.Context, host string) (Tenant, error)
}

func (c *countingResolver) Resolve(ctx context.Context, host string) (Tenant, error) {
	c.calls.Add(1)
	return c.resolve(ctx, host)
}

func TestCachingResolverCachesDefinitiveAnswers(t *testing.T) {
	backend := &countingResolver{resolve: func(_ context.Context, host string) (Tenant, error) {
		if host == "birdie-golf.co.uk" {
			return Tenant{Slug: "birdie-golf", Domain: host}, nil
		}
		return Tenant{}, ErrNotRegistered
	}}
	r := NewCachingResolver(backend, nil, time.Minute, time.Second)
	ctx := context.Background()

	for range 3 {
		got, err := r.Resolve(ctx, "birdie-golf.co.uk")
		require.NoError(t, err)
		assert.Equal(t, "birdie-golf", got.Slug)
	}
	for range 3 {
		_, err := r.Resolve(ctx, "evil.example.com")
		assert.ErrorIs(t, err, ErrNotRegistered)
	}
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestCachingResolverFailsClosed(t *testing.T) {
	backend := &countingResolver{resolve: func(_ context.Context, _ string) (Tenant, error) {
		return Tenant{}, errors.New("connection refused")
	}}
	r := NewCachingResolver(backend, nil, time.Minute, time.Second)

	for range 2 {
		_, err := r.Resolve(context.Background(), "birdie-golf.co.uk")
		assert.ErrorIs(t, err, ErrNotRegistered)
		assert.Contains(t, err.Error(), "connection refused")
	}
	assert.Equal(t, int32(2), backend.calls.Load(), "errors are not cached")
}

func TestCachingResolverTimeout(t *testing.T) {
	backend := &countingResolver{resolve: func(ctx context.Context, _ string) (Tenant, error) {
		<-ctx.Done()
		return Tenant{}, ctx.Err()
	}}
	r := NewCachingResolver(backend, nil, time.Minute, 20*time.Millisecond)

	start := time.Now()
	_, err := r.Resolve(context.Background(), "slow.example")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCachingResolverExpiry(t *testing.T) {
	backend := &countingResolver{resolve: func(_ context.Context, host string) (Tenant, error) {
		return Tenant{Slug: "s", Domain: host}, nil
	}}
	cache := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	r := NewCachingResolver(backend, cache, time.Minute, time.Second)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "a.example")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "a.example")
	require.NoError(t, err)
	assert.Equal(t, int32(1), backend.calls.Load())

	now = now.Add(time.Minute)
	_, err = r.Resolve(ctx, "a.example")
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestCachingResolverSingleflight(t *testing.T) {
	release := make(chan struct{})
	backend := &countingResolver{resolve: func(_ context.Context, host string) (Tenant, error) {
		<-release
		return Tenant{Slug: "birdie-golf", Domain: host}, nil
	}}
	r := NewCachingResolver(backend, nil, time.Minute, 5*time.Second)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), "birdie-golf.co.uk")
			assert.NoError(t, err)
			assert.Equal(t, "birdie-golf", got.Slug)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestCachingResolverEmptyHost(t *testing.T) {
	backend := &countingResolver{}
	r := NewCachingResolver(backend, nil, 0, 0)
	_, err := r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Equal(t, int32(0), backend.calls.Load())
}

func TestMemoryCacheSweep(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "old.example", Answer{Registered: false}, time.Second))
	require.NoError(t, cache.Set(ctx, "new.example", Answer{Slug: "n", Registered: true}, time.Hour))

	now = now.Add(time.Minute)
	_, ok, err := cache.Get(ctx, "old.example")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())

	removed, err := cache.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.Len())
}

func TestMemoryCacheBounded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	cache := NewMemoryCacheWithLimit(3)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "a.example", Answer{}, time.Minute))
	require.NoError(t, cache.Set(ctx, "b.example", Answer{}, 3*time.Minute))
	require.NoError(t, cache.Set(ctx, "c.example", Answer{Registered: true, Slug: "c"}, 2*time.Minute))

	// Rewriting a known host never evicts.
	require.NoError(t, cache.Set(ctx, "c.example", Answer{Registered: true, Slug: "c"}, 2*time.Minute))
	assert.Equal(t, 3, cache.Len())

	require.NoError(t, cache.Set(ctx, "d.example", Answer{}, time.Minute))
	assert.Equal(t, 3, cache.Len())
	_, ok, _ := cache.Get(ctx, "a.example")
	assert.False(t, ok, "entry closest to expiry is evicted")
	_, ok, _ = cache.Get(ctx, "d.example")
	assert.True(t, ok)

	for i := 0; i < 100; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("random-%d.example", i), Answer{}, time.Minute))
	}
	assert.Equal(t, 3, cache.Len())
}

func TestMemoryCacheFullDropsExpiredFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	cache := NewMemoryCacheWithLimit(2)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "old.example", Answer{}, time.Minute))
	require.NoError(t, cache.Set(ctx, "keep.example", Answer{Registered: true, Slug: "keep"}, time.Hour))
	now = now.Add(2 * time.Minute)

	require.NoError(t, cache.Set(ctx, "new.example", Answer{}, time.Minute))
	assert.Equal(t, 2, cache.Len())
	a, ok, _ := cache.Get(ctx, "keep.example")
	assert.True(t, ok)
	assert.Equal(t, "keep", a.Slug)
}

func TestCleanupManager(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	require.NoError(t, cache.Set(ctx, "gone.example", Answer{}, time.Millisecond))

	cm := NewCleanupManager(cache, 5*time.Millisecond)
	cm.Start(ctx)
	assert.Eventually(t, func() bool { return cache.Len() == 0 }, time.Second, 5*time.Millisecond)
	cm.Stop()
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheWithClient(client, RedisKeyPrefix), mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)

	_, ok, err := cache.Get(ctx, "birdie-golf.co.uk")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "birdie-golf.co.uk", Answer{Slug: "birdie-golf", Registered: true}, time.Minute))
	assert.True(t, mr.Exists(RedisKeyPrefix+"birdie-golf.co.uk"))
	assert.Equal(t, time.Minute, mr.TTL(RedisKeyPrefix+"birdie-golf.co.uk"))

	a, ok, err := cache.Get(ctx, "birdie-golf.co.uk")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Answer{Slug: "birdie-golf", Registered: true}, a)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "birdie-golf.co.uk")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	cache, mr := newRedisCache(t)
	require.NoError(t, mr.Set(RedisKeyPrefix+"bad.example", "not json"))

	_, ok, err := cache.Get(context.Background(), "bad.example")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCachingResolverSharesAnswersThroughRedis(t *testing.T) {
	cache, _ := newRedisCache(t)
	backend := &countingResolver{resolve: func(_ context.Context, host string) (Tenant, error) {
		return Tenant{Slug: "birdie-golf", Domain: host}, nil
	}}

	first := NewCachingResolver(backend, cache, time.Minute, time.Second)
	second := NewCachingResolver(backend, cache, time.Minute, time.Second)

	_, err := first.Resolve(context.Background(), "birdie-golf.co.uk")
	require.NoError(t, err)
	got, err := second.Resolve(context.Background(), "birdie-golf.co.uk")
	require.NoError(t, err)
	assert.Equal(t, "birdie-golf", got.Slug)
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestNewService(t *testing.T) {
	ctx := context.Background()

	t.Run("static with memory cache", func(t *testing.T) {
		svc, err := New(ctx, config.TenantResolverConfig{
			Kind:    config.ResolverKindStatic,
			Domains: map[string]string{"birdie-golf.co.uk": "birdie-golf"},
			Cache:   config.CacheConfig{Kind: config.CacheKindMemory},
		})
		require.NoError(t, err)
		svc.Start(ctx)
		defer func() { assert.NoError(t, svc.Close()) }()

		got, err := svc.Resolve(ctx, "birdie-golf.co.uk")
		require.NoError(t, err)
		assert.Equal(t, "birdie-golf", got.Slug)
	})

	t.Run("http with redis cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		server := newBackend(t, func(w http.ResponseWriter, _ string) {
			_ = json.NewEncoder(w).Encode(map[string]string{"slug": "birdie-golf"})
		})
		svc, err := New(ctx, config.TenantResolverConfig{
			Kind:       config.ResolverKindHTTP,
			BackendURL: server.URL,
			Cache:      config.CacheConfig{Kind: config.CacheKindRedis, RedisAddr: mr.Addr()},
		})
		require.NoError(t, err)
		defer func() { assert.NoError(t, svc.Close()) }()

		_, err = svc.Resolve(ctx, "birdie-golf.co.uk")
		require.NoError(t, err)
		assert.True(t, mr.Exists(RedisKeyPrefix+"birdie-golf.co.uk"))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		_, err := New(ctx, config.TenantResolverConfig{
			Kind:  config.ResolverKindStatic,
			Cache: config.CacheConfig{Kind: config.CacheKindRedis, RedisAddr: "127.0.0.1:1"},
		})
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := New(ctx, config.TenantResolverConfig{Kind: "ldap"})
		assert.Error(t, err)
	})
}
