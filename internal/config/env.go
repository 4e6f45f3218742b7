package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// brokerEnv holds raw env values for an env-only deployment.
type brokerEnv struct {
	Environment        string            `env:"FLEXRZ_ENV"                   envDefault:"production"`
	Addr               string            `env:"FLEXRZ_ADDR"                  envDefault:":8080"`
	AuthOrigin         string            `env:"FLEXRZ_AUTH_ORIGIN"`
	ApexDomain         string            `env:"FLEXRZ_APEX_DOMAIN,required"`
	AppHost            string            `env:"FLEXRZ_APP_HOST"`
	OwnerHost          string            `env:"FLEXRZ_OWNER_HOST"`
	FallbackURL        string            `env:"FLEXRZ_FALLBACK_URL"`
	AllowedHosts       []string          `env:"FLEXRZ_ALLOWED_HOSTS"          envSeparator:","`
	AllowLocalDevHosts string            `env:"FLEXRZ_ALLOW_LOCAL_DEV_HOSTS"`
	CookieDomain       string            `env:"FLEXRZ_COOKIE_DOMAIN"`
	SessionSecret      string            `env:"FLEXRZ_SESSION_SECRET"`
	SessionTTL         time.Duration     `env:"FLEXRZ_SESSION_TTL"`
	GoogleClientID     string            `env:"FLEXRZ_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string            `env:"FLEXRZ_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string            `env:"FLEXRZ_GOOGLE_REDIRECT_URI"`
	HandoffSecret      string            `env:"FLEXRZ_HANDOFF_SECRET"`
	HandoffTTL         time.Duration     `env:"FLEXRZ_HANDOFF_TTL"`
	ResolverKind       string            `env:"FLEXRZ_TENANT_RESOLVER"`
	BackendURL         string            `env:"FLEXRZ_TENANT_BACKEND_URL"`
	ResolverTimeout    time.Duration     `env:"FLEXRZ_TENANT_TIMEOUT"`
	ResolverCacheTTL   time.Duration     `env:"FLEXRZ_TENANT_CACHE_TTL"`
	TenantDomains      map[string]string `env:"FLEXRZ_TENANT_DOMAINS"         envSeparator:","  envKeyValSeparator:"="`
	GCPProject         string            `env:"FLEXRZ_GCP_PROJECT"`
	FirestoreDatabase  string            `env:"FLEXRZ_FIRESTORE_DATABASE"`
	FirestoreColl      string            `env:"FLEXRZ_FIRESTORE_COLLECTION"`
	CacheKind          string            `env:"FLEXRZ_TENANT_CACHE"`
	RedisAddr          string            `env:"FLEXRZ_REDIS_ADDR"`
	RedisPassword      string            `env:"FLEXRZ_REDIS_PASSWORD"`
	RedisDB            int               `env:"FLEXRZ_REDIS_DB"`
	LogLevel           string            `env:"LOG_LEVEL"`
	LogFormat          string            `env:"LOG_FORMAT"`
}

// LoadFromEnv builds the configuration from environment variables only,
// for deployments that ship without a config file.
func LoadFromEnv() (Config, error) {
	var raw brokerEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		Environment:  Environment(raw.Environment),
		Addr:         raw.Addr,
		AuthOrigin:   raw.AuthOrigin,
		ApexDomain:   raw.ApexDomain,
		AppHost:      raw.AppHost,
		OwnerHost:    raw.OwnerHost,
		FallbackURL:  raw.FallbackURL,
		AllowedHosts: raw.AllowedHosts,
		CookieDomain: raw.CookieDomain,
		Session: SessionConfig{
			Secret: Secret(raw.SessionSecret),
			TTL:    raw.SessionTTL,
		},
		Google: GoogleConfig{
			ClientID:     raw.GoogleClientID,
			ClientSecret: Secret(raw.GoogleClientSecret),
			RedirectURI:  raw.GoogleRedirectURI,
		},
		Handoff: HandoffConfig{
			Secret: Secret(raw.HandoffSecret),
			TTL:    raw.HandoffTTL,
		},
		TenantResolver: TenantResolverConfig{
			Kind:                ResolverKind(raw.ResolverKind),
			BackendURL:          raw.BackendURL,
			Timeout:             raw.ResolverTimeout,
			CacheTTL:            raw.ResolverCacheTTL,
			Domains:             raw.TenantDomains,
			GCPProject:          raw.GCPProject,
			FirestoreDatabase:   raw.FirestoreDatabase,
			FirestoreCollection: raw.FirestoreColl,
			Cache: CacheConfig{
				Kind:          CacheKind(raw.CacheKind),
				RedisAddr:     raw.RedisAddr,
				RedisPassword: Secret(raw.RedisPassword),
				RedisDB:       raw.RedisDB,
			},
		},
		Log: LogConfig{Level: raw.LogLevel, Format: raw.LogFormat},
	}

	if raw.AllowLocalDevHosts != "" {
		allow, err := strconv.ParseBool(raw.AllowLocalDevHosts)
		if err != nil {
			return Config{}, fmt.Errorf("FLEXRZ_ALLOW_LOCAL_DEV_HOSTS: %w", err)
		}
		cfg.AllowLocalDevHosts = &allow
	}

	cfg.ApplyDefaults()

	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
