package tenant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/flexrz/auth-broker/internal/config"
	"github.com/flexrz/auth-broker/internal/log"
)

// Service is the configured resolver together with the resources it owns.
type Service struct {
	*CachingResolver
	closers []io.Closer
	cleanup *CleanupManager
	running bool
}

// New builds the resolver described by cfg. Callers must Close the service.
func New(ctx context.Context, cfg config.TenantResolverConfig) (*Service, error) {
	svc := &Service{}

	var next Resolver
	switch cfg.Kind {
	case config.ResolverKindHTTP:
		r, err := NewHTTPResolver(cfg.BackendURL, &http.Client{})
		if err != nil {
			return nil, err
		}
		next = r
	case config.ResolverKindFirestore:
		r, err := NewFirestoreResolver(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, r)
		next = r
	case config.ResolverKindStatic, "":
		next = NewStaticResolver(cfg.Domains)
	default:
		return nil, fmt.Errorf("unknown tenant resolver kind %q", cfg.Kind)
	}

	var cache Cache
	switch cfg.Cache.Kind {
	case config.CacheKindRedis:
		rc, err := NewRedisCache(ctx, cfg.Cache.RedisAddr, string(cfg.Cache.RedisPassword), cfg.Cache.RedisDB)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		svc.closers = append(svc.closers, rc)
		cache = rc
	default:
		mc := NewMemoryCache()
		ttl := cfg.CacheTTL
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		svc.cleanup = NewCleanupManager(mc, 2*ttl)
		cache = mc
	}

	svc.CachingResolver = NewCachingResolver(next, cache, cfg.CacheTTL, cfg.Timeout)

	log.LogInfoWithFields("tenant", "Tenant resolver configured", map[string]any{
		"kind":    string(cfg.Kind),
		"cache":   string(cfg.Cache.Kind),
		"ttl":     svc.ttl.String(),
		"timeout": svc.timeout.String(),
	})
	return svc, nil
}

// Start runs background maintenance until ctx ends or Close is called.
func (s *Service) Start(ctx context.Context) {
	if s.cleanup != nil && !s.running {
		s.cleanup.Start(ctx)
		s.running = true
	}
}

// Close stops background work and releases clients.
func (s *Service) Close() error {
	if s.running {
		s.cleanup.Stop()
		s.running = false
	}
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
