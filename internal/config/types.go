package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Environment selects cookie security and local-dev relaxations.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
)

// ResolverKind selects the tenant-domain resolver backend.
type ResolverKind string

const (
	ResolverKindHTTP      ResolverKind = "http"
	ResolverKindFirestore ResolverKind = "firestore"
	ResolverKindStatic    ResolverKind = "static"
)

// CacheKind selects where resolver answers are cached.
type CacheKind string

const (
	CacheKindMemory CacheKind = "memory"
	CacheKindRedis  CacheKind = "redis"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr            = ":8080"
	DefaultSessionTTL      = 30 * 24 * time.Hour
	DefaultHandoffTTL      = 120 * time.Second
	MinHandoffTTL          = 60 * time.Second
	MaxHandoffTTL          = 300 * time.Second
	DefaultHandoffAudience = "flexrz-auth-handoff"
	DefaultResolverTimeout = 800 * time.Millisecond
	DefaultResolverTTL     = 60 * time.Second
	DefaultTenantDomains   = "tenant_domains"
)

// GoogleConfig holds the Google OAuth client. The endpoint overrides are only
// set in tests and staging setups that front Google with a fake.
type GoogleConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
	RedirectURI  string `json:"redirectUri"`
	AuthURL      string `json:"authUrl,omitempty"`
	TokenURL     string `json:"tokenUrl,omitempty"`
	UserInfoURL  string `json:"userInfoUrl,omitempty"`
}

// SessionConfig configures the encrypted session cookie.
type SessionConfig struct {
	Secret Secret        `json:"secret"`
	TTL    time.Duration `json:"ttl"`
}

// HandoffConfig configures cross-domain handoff assertions. An empty secret
// disables handoff; redirects to tenant domains then carry no assertion.
type HandoffConfig struct {
	Secret   Secret        `json:"secret"`
	TTL      time.Duration `json:"ttl"`
	Audience string        `json:"audience"`
}

// CacheConfig configures the resolver answer cache.
type CacheConfig struct {
	Kind          CacheKind `json:"kind"`
	RedisAddr     string    `json:"redisAddr,omitempty"`
	RedisPassword Secret    `json:"redisPassword,omitempty"`
	RedisDB       int       `json:"redisDb,omitempty"`
}

// TenantResolverConfig configures how custom domains are mapped to tenants.
type TenantResolverConfig struct {
	Kind                ResolverKind      `json:"kind"`
	BackendURL          string            `json:"backendUrl,omitempty"`
	Timeout             time.Duration     `json:"timeout"`
	CacheTTL            time.Duration     `json:"cacheTtl"`
	Domains             map[string]string `json:"domains,omitempty"` // host -> tenant slug, static kind
	GCPProject          string            `json:"gcpProject,omitempty"`
	FirestoreDatabase   string            `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string            `json:"firestoreCollection,omitempty"`
	Cache               CacheConfig       `json:"cache"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Config is the resolved broker configuration. It is built once at startup
// and handed to every component; nothing reads the environment afterwards.
type Config struct {
	Environment Environment `json:"environment"`
	Addr        string      `json:"addr"`

	// AuthOrigin is the broker's own canonical origin, e.g. https://auth.flexrz.com.
	AuthOrigin string `json:"authOrigin"`
	ApexDomain string `json:"apexDomain"`
	AppHost    string `json:"appHost"`
	OwnerHost  string `json:"ownerHost"`

	// FallbackURL is where every rejected or failed flow lands.
	FallbackURL string `json:"fallbackUrl"`

	AllowedHosts       []string `json:"allowedHosts,omitempty"`
	AllowLocalDevHosts *bool    `json:"allowLocalDevHosts,omitempty"`

	// CookieDomain scopes shared cookies. Empty means host-only cookies.
	CookieDomain string `json:"cookieDomain"`

	Session        SessionConfig        `json:"session"`
	Google         GoogleConfig         `json:"google"`
	Handoff        HandoffConfig        `json:"handoff"`
	TenantResolver TenantResolverConfig `json:"tenantResolver"`
	Log            LogConfig            `json:"log"`
}

// IsDev reports whether the broker runs in development mode
// where cookie security requirements are relaxed
func (c *Config) IsDev() bool {
	return c.Environment == EnvironmentDevelopment
}

// SecureCookies reports whether cookies carry the Secure flag and the
// secure-prefixed names.
func (c *Config) SecureCookies() bool {
	return !c.IsDev()
}

// LocalDevHostsAllowed reports whether localhost-style hosts pass the host policy.
func (c *Config) LocalDevHostsAllowed() bool {
	if c.AllowLocalDevHosts != nil {
		return *c.AllowLocalDevHosts
	}
	return c.IsDev()
}

// AppOrigin is the default base origin for relative destinations.
func (c *Config) AppOrigin() string {
	return c.schemeFor(c.AppHost) + "://" + c.AppHost
}

// OwnerOrigin is the origin of the owner console.
func (c *Config) OwnerOrigin() string {
	return c.schemeFor(c.OwnerHost) + "://" + c.OwnerHost
}

func (c *Config) schemeFor(host string) string {
	if c.IsDev() && (strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") ||
		strings.Contains(host, ".localhost")) {
		return "http"
	}
	return "https"
}

// ApplyDefaults fills unset fields with values derived from the apex domain.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvironmentProduction
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	c.ApexDomain = strings.ToLower(strings.TrimSpace(c.ApexDomain))
	if c.ApexDomain != "" {
		if c.AuthOrigin == "" {
			c.AuthOrigin = "https://auth." + c.ApexDomain
		}
		if c.AppHost == "" {
			c.AppHost = "app." + c.ApexDomain
		}
		if c.OwnerHost == "" {
			c.OwnerHost = "owner." + c.ApexDomain
		}
		if c.FallbackURL == "" {
			c.FallbackURL = "https://" + c.ApexDomain
		}
		if c.CookieDomain == "" && !c.IsDev() {
			c.CookieDomain = c.ApexDomain
		}
	}
	c.AuthOrigin = strings.TrimSuffix(c.AuthOrigin, "/")
	if c.Google.RedirectURI == "" && c.AuthOrigin != "" {
		c.Google.RedirectURI = c.AuthOrigin + "/api/auth/callback/google"
	}

	if c.Session.TTL == 0 {
		c.Session.TTL = DefaultSessionTTL
	}
	if c.Handoff.TTL == 0 {
		c.Handoff.TTL = DefaultHandoffTTL
	}
	if c.Handoff.Audience == "" {
		c.Handoff.Audience = DefaultHandoffAudience
	}

	r := &c.TenantResolver
	if r.Kind == "" {
		switch {
		case r.BackendURL != "":
			r.Kind = ResolverKindHTTP
		case r.GCPProject != "":
			r.Kind = ResolverKindFirestore
		default:
			r.Kind = ResolverKindStatic
		}
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultResolverTimeout
	}
	if r.CacheTTL == 0 {
		r.CacheTTL = DefaultResolverTTL
	}
	if r.FirestoreCollection == "" {
		r.FirestoreCollection = DefaultTenantDomains
	}
	if r.Cache.Kind == "" {
		r.Cache.Kind = CacheKindMemory
	}
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately.
// Shell-style $VAR strings are kept literally.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
