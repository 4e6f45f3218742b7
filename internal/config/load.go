package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/flexrz/auth-broker/internal/log"
)

// ConfigVersion is the only accepted value of the "version" field.
const ConfigVersion = "v1"

// secretFields must be {"$env": ...} references in config files.
var secretFields = [][]string{
	{"google", "clientSecret"},
	{"session", "secret"},
	{"handoff", "secret"},
	{"tenantResolver", "cache", "redisPassword"},
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != ConfigVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	config.ApplyDefaults()

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects secrets written inline instead of as env references
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretFields {
		value, ok := lookup(rawConfig, path)
		if !ok {
			continue
		}
		name := strings.Join(path, ".")
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s must use environment variable reference for security", name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	switch config.Environment {
	case EnvironmentProduction, EnvironmentDevelopment:
	default:
		return fmt.Errorf("environment must be %q or %q, got %q", EnvironmentProduction, EnvironmentDevelopment, config.Environment)
	}
	if config.ApexDomain == "" {
		return fmt.Errorf("apexDomain is required")
	}
	if config.Addr == "" {
		return fmt.Errorf("addr is required")
	}

	authOrigin, err := url.Parse(config.AuthOrigin)
	if err != nil || authOrigin.Host == "" {
		return fmt.Errorf("authOrigin must be an absolute URL, got %q", config.AuthOrigin)
	}
	if authOrigin.Scheme != "https" && !(authOrigin.Scheme == "http" && config.IsDev()) {
		return fmt.Errorf("authOrigin must use https")
	}
	if authOrigin.Path != "" || authOrigin.RawQuery != "" {
		return fmt.Errorf("authOrigin must be an origin without path or query")
	}
	if _, err := url.Parse(config.FallbackURL); err != nil || !strings.Contains(config.FallbackURL, "://") {
		return fmt.Errorf("fallbackUrl must be an absolute URL, got %q", config.FallbackURL)
	}

	if err := validateGoogleConfig(&config.Google); err != nil {
		return fmt.Errorf("google config: %w", err)
	}

	if len(config.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(config.Session.Secret))
	}

	if config.Handoff.TTL < MinHandoffTTL || config.Handoff.TTL > MaxHandoffTTL {
		return fmt.Errorf("handoff.ttl must be between %s and %s, got %s", MinHandoffTTL, MaxHandoffTTL, config.Handoff.TTL)
	}
	if config.Handoff.Secret == "" {
		log.LogWarn("handoff.secret is not set, tenant custom domains will not receive handoff assertions")
	} else if len(config.Handoff.Secret) < 32 {
		return fmt.Errorf("handoff.secret must be at least 32 characters (got %d)", len(config.Handoff.Secret))
	}

	if err := validateTenantResolver(&config.TenantResolver); err != nil {
		return fmt.Errorf("tenantResolver: %w", err)
	}

	return nil
}

func validateGoogleConfig(g *GoogleConfig) error {
	if g.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if g.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	if g.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}
	return nil
}

func validateTenantResolver(r *TenantResolverConfig) error {
	switch r.Kind {
	case ResolverKindHTTP:
		u, err := url.Parse(r.BackendURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backendUrl must be an absolute URL when kind is http")
		}
	case ResolverKindFirestore:
		if r.GCPProject == "" {
			return fmt.Errorf("gcpProject is required when kind is firestore")
		}
	case ResolverKindStatic:
	default:
		return fmt.Errorf("invalid kind %q (http, firestore or static)", r.Kind)
	}

	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	switch r.Cache.Kind {
	case CacheKindMemory:
	case CacheKindRedis:
		if r.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redisAddr is required when cache kind is redis")
		}
	default:
		return fmt.Errorf("invalid cache kind %q (memory or redis)", r.Cache.Kind)
	}
	return nil
}
