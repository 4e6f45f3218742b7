package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionSecret = "session-secret-that-is-long-enough-32"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Config{
		ApexDomain: "flexrz.com",
		Google: GoogleConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		},
		Session: SessionConfig{Secret: testSessionSecret},
		Handoff: HandoffConfig{Secret: "handoff-secret-that-is-long-enough-32"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_GOOGLE_SECRET", "google-secret")
	t.Setenv("TEST_SESSION_SECRET", testSessionSecret)
	t.Setenv("TEST_HANDOFF_SECRET", `"handoff-secret-that-is-long-enough-32"`)
	t.Setenv("TEST_BACKEND_URL", "https://api.flexrz.com")

	path := writeConfig(t, `{
		"version": "v1",
		"apexDomain": "flexrz.com",
		"allowedHosts": ["*.bookings.example.net"],
		"google": {
			"clientId": "client-id",
			"clientSecret": {"$env": "TEST_GOOGLE_SECRET"}
		},
		"session": {"secret": {"$env": "TEST_SESSION_SECRET"}},
		"handoff": {"secret": {"$env": "TEST_HANDOFF_SECRET"}, "ttl": "90s"},
		"tenantResolver": {
			"backendUrl": {"$env": "TEST_BACKEND_URL"},
			"timeout": "500ms"
		},
		"log": {"level": "debug", "format": "json"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvironmentProduction, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "https://auth.flexrz.com", cfg.AuthOrigin)
	assert.Equal(t, "app.flexrz.com", cfg.AppHost)
	assert.Equal(t, "owner.flexrz.com", cfg.OwnerHost)
	assert.Equal(t, "https://flexrz.com", cfg.FallbackURL)
	assert.Equal(t, "flexrz.com", cfg.CookieDomain)
	assert.Equal(t, "https://auth.flexrz.com/api/auth/callback/google", cfg.Google.RedirectURI)
	assert.Equal(t, Secret("google-secret"), cfg.Google.ClientSecret)
	assert.Equal(t, Secret("handoff-secret-that-is-long-enough-32"), cfg.Handoff.Secret)
	assert.Equal(t, 90*time.Second, cfg.Handoff.TTL)
	assert.Equal(t, DefaultHandoffAudience, cfg.Handoff.Audience)
	assert.Equal(t, DefaultSessionTTL, cfg.Session.TTL)
	assert.Equal(t, ResolverKindHTTP, cfg.TenantResolver.Kind)
	assert.Equal(t, "https://api.flexrz.com", cfg.TenantResolver.BackendURL)
	assert.Equal(t, 500*time.Millisecond, cfg.TenantResolver.Timeout)
	assert.Equal(t, DefaultResolverTTL, cfg.TenantResolver.CacheTTL)
	assert.Equal(t, CacheKindMemory, cfg.TenantResolver.Cache.Kind)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.LocalDevHostsAllowed())
	assert.True(t, cfg.SecureCookies())
	assert.Equal(t, "https://app.flexrz.com", cfg.AppOrigin())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing version",
			body:    `{"apexDomain": "flexrz.com"}`,
			wantErr: "config version is required",
		},
		{
			name:    "wrong version",
			body:    `{"version": "v0", "apexDomain": "flexrz.com"}`,
			wantErr: "unsupported config version",
		},
		{
			name: "inline secret",
			body: `{
				"version": "v1",
				"apexDomain": "flexrz.com",
				"google": {"clientId": "id", "clientSecret": "plain"}
			}`,
			wantErr: "google.clientSecret must use environment variable reference",
		},
		{
			name: "missing env var",
			body: `{
				"version": "v1",
				"apexDomain": "flexrz.com",
				"google": {"clientId": "id", "clientSecret": {"$env": "DEFINITELY_NOT_SET_FOR_TEST"}}
			}`,
			wantErr: "environment variable DEFINITELY_NOT_SET_FOR_TEST not set",
		},
		{
			name:    "invalid json",
			body:    `{`,
			wantErr: "parsing config JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad environment",
			mutate:  func(c *Config) { c.Environment = "staging" },
			wantErr: "environment must be",
		},
		{
			name:    "http auth origin in production",
			mutate:  func(c *Config) { c.AuthOrigin = "http://auth.flexrz.com" },
			wantErr: "authOrigin must use https",
		},
		{
			name:    "auth origin with path",
			mutate:  func(c *Config) { c.AuthOrigin = "https://auth.flexrz.com/base" },
			wantErr: "authOrigin must be an origin",
		},
		{
			name:    "short session secret",
			mutate:  func(c *Config) { c.Session.Secret = "short" },
			wantErr: "session.secret must be at least 32 characters",
		},
		{
			name:    "handoff ttl too short",
			mutate:  func(c *Config) { c.Handoff.TTL = 30 * time.Second },
			wantErr: "handoff.ttl must be between",
		},
		{
			name:    "handoff ttl too long",
			mutate:  func(c *Config) { c.Handoff.TTL = 10 * time.Minute },
			wantErr: "handoff.ttl must be between",
		},
		{
			name:   "handoff secret optional",
			mutate: func(c *Config) { c.Handoff.Secret = "" },
		},
		{
			name:    "short handoff secret",
			mutate:  func(c *Config) { c.Handoff.Secret = "short" },
			wantErr: "handoff.secret must be at least 32 characters",
		},
		{
			name:    "missing google client",
			mutate:  func(c *Config) { c.Google.ClientID = "" },
			wantErr: "clientId is required",
		},
		{
			name:    "http resolver without backend",
			mutate:  func(c *Config) { c.TenantResolver.Kind = ResolverKindHTTP },
			wantErr: "backendUrl must be an absolute URL",
		},
		{
			name:    "firestore resolver without project",
			mutate:  func(c *Config) { c.TenantResolver.Kind = ResolverKindFirestore },
			wantErr: "gcpProject is required",
		},
		{
			name:    "unknown resolver",
			mutate:  func(c *Config) { c.TenantResolver.Kind = "ldap" },
			wantErr: "invalid kind",
		},
		{
			name:    "redis cache without addr",
			mutate:  func(c *Config) { c.TenantResolver.Cache.Kind = CacheKindRedis },
			wantErr: "cache.redisAddr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(&cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDevelopmentDefaults(t *testing.T) {
	cfg := Config{
		Environment: EnvironmentDevelopment,
		ApexDomain:  "flexrz.com",
		AuthOrigin:  "http://localhost:3000/",
		AppHost:     "localhost:3001",
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "http://localhost:3000", cfg.AuthOrigin)
	assert.Empty(t, cfg.CookieDomain)
	assert.True(t, cfg.LocalDevHostsAllowed())
	assert.False(t, cfg.SecureCookies())
	assert.Equal(t, "http://localhost:3001", cfg.AppOrigin())

	off := false
	cfg.AllowLocalDevHosts = &off
	assert.False(t, cfg.LocalDevHostsAllowed())
}
