package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flexrz/auth-broker/internal/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout  = 800 * time.Millisecond
	DefaultCacheTTL = 60 * time.Second
)

// CachingResolver fronts another Resolver with a TTL cache, a per-lookup
// timeout and singleflight so concurrent requests for one host share a
// single backend call.
//
// Only definitive answers are cached. Errors and timeouts are reported as
// ErrNotRegistered (wrapping the cause) and are retried on the next request.
type CachingResolver struct {
	next    Resolver
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
}

// NewCachingResolver wraps next. Zero durations select the defaults; a nil
// cache selects a MemoryCache.
func NewCachingResolver(next Resolver, cache Cache, ttl, timeout time.Duration) *CachingResolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CachingResolver{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		timeout: timeout,
	}
}

// Resolve implements Resolver.
func (c *CachingResolver) Resolve(ctx context.Context, host string) (Tenant, error) {
	host = NormalizeHost(host)
	if host == "" {
		return Tenant{}, ErrNotRegistered
	}

	a, ok, err := c.cache.Get(ctx, host)
	if err != nil {
		log.LogWarnWithFields("tenant", "Resolver cache read failed", map[string]any{
			"host":  host,
			"error": err.Error(),
		})
	}
	if ok {
		return answerToTenant(host, a)
	}

	v, err, shared := c.group.Do(host, func() (any, error) {
		return c.lookup(ctx, host)
	})
	if shared {
		log.LogTraceWithFields("tenant", "Shared in-flight lookup", map[string]any{"host": host})
	}
	if err != nil {
		return Tenant{}, err
	}
	return v.(Tenant), nil
}

func (c *CachingResolver) lookup(ctx context.Context, host string) (Tenant, error) {
	// The lookup is shared by every waiter, so it must not die with the
	// first caller's request.
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	t, err := c.next.Resolve(lookupCtx, host)
	switch {
	case err == nil:
		c.store(lookupCtx, host, Answer{Slug: t.Slug, Registered: true})
		log.LogDebugWithFields("tenant", "Domain resolved", map[string]any{
			"host":     host,
			"slug":     t.Slug,
			"duration": time.Since(start).String(),
		})
		return t, nil
	case errors.Is(err, ErrNotRegistered):
		c.store(lookupCtx, host, Answer{Registered: false})
		return Tenant{}, ErrNotRegistered
	default:
		log.LogWarnWithFields("tenant", "Domain lookup failed, treating as not registered", map[string]any{
			"host":     host,
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})
		return Tenant{}, fmt.Errorf("%w: %w", ErrNotRegistered, err)
	}
}

func (c *CachingResolver) store(ctx context.Context, host string, a Answer) {
	if err := c.cache.Set(ctx, host, a, c.ttl); err != nil {
		log.LogWarnWithFields("tenant", "Resolver cache write failed", map[string]any{
			"host":  host,
			"error": err.Error(),
		})
	}
}

func answerToTenant(host string, a Answer) (Tenant, error) {
	if !a.Registered {
		return Tenant{}, ErrNotRegistered
	}
	return Tenant{Slug: a.Slug, Domain: host}, nil
}
