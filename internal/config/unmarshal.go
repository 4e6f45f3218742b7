package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// stringField resolves an optional string-or-reference value into dst.
func stringField(raw json.RawMessage, name string, dst *string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = value
	return nil
}

func secretField(raw json.RawMessage, name string, dst *Secret) error {
	var value string
	if err := stringField(raw, name, &value); err != nil {
		return err
	}
	if value != "" {
		*dst = Secret(value)
	}
	return nil
}

func durationField(raw, name string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	if d < 0 {
		return fmt.Errorf("%s cannot be negative", name)
	}
	*dst = d
	return nil
}

// UnmarshalJSON implements custom unmarshaling for Config
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Environment        Environment          `json:"environment"`
		Addr               string               `json:"addr"`
		AuthOrigin         json.RawMessage      `json:"authOrigin"`
		ApexDomain         json.RawMessage      `json:"apexDomain"`
		AppHost            string               `json:"appHost"`
		OwnerHost          string               `json:"ownerHost"`
		FallbackURL        string               `json:"fallbackUrl"`
		AllowedHosts       []string             `json:"allowedHosts"`
		AllowLocalDevHosts *bool                `json:"allowLocalDevHosts"`
		CookieDomain       string               `json:"cookieDomain"`
		Session            SessionConfig        `json:"session"`
		Google             GoogleConfig         `json:"google"`
		Handoff            HandoffConfig        `json:"handoff"`
		TenantResolver     TenantResolverConfig `json:"tenantResolver"`
		Log                LogConfig            `json:"log"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Environment = raw.Environment
	c.Addr = raw.Addr
	c.AppHost = raw.AppHost
	c.OwnerHost = raw.OwnerHost
	c.FallbackURL = raw.FallbackURL
	c.AllowedHosts = raw.AllowedHosts
	c.AllowLocalDevHosts = raw.AllowLocalDevHosts
	c.CookieDomain = raw.CookieDomain
	c.Session = raw.Session
	c.Google = raw.Google
	c.Handoff = raw.Handoff
	c.TenantResolver = raw.TenantResolver
	c.Log = raw.Log

	if err := stringField(raw.AuthOrigin, "authOrigin", &c.AuthOrigin); err != nil {
		return err
	}
	return stringField(raw.ApexDomain, "apexDomain", &c.ApexDomain)
}

// UnmarshalJSON implements custom unmarshaling for GoogleConfig
func (g *GoogleConfig) UnmarshalJSON(data []byte) error {
	type rawGoogle struct {
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		RedirectURI  json.RawMessage `json:"redirectUri"`
		AuthURL      string          `json:"authUrl"`
		TokenURL     string          `json:"tokenUrl"`
		UserInfoURL  string          `json:"userInfoUrl"`
	}

	var raw rawGoogle
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.AuthURL = raw.AuthURL
	g.TokenURL = raw.TokenURL
	g.UserInfoURL = raw.UserInfoURL

	if err := stringField(raw.ClientID, "clientId", &g.ClientID); err != nil {
		return err
	}
	if err := secretField(raw.ClientSecret, "clientSecret", &g.ClientSecret); err != nil {
		return err
	}
	return stringField(raw.RedirectURI, "redirectUri", &g.RedirectURI)
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Secret json.RawMessage `json:"secret"`
		TTL    string          `json:"ttl"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := secretField(raw.Secret, "session.secret", &s.Secret); err != nil {
		return err
	}
	return durationField(raw.TTL, "session.ttl", &s.TTL)
}

// UnmarshalJSON implements custom unmarshaling for HandoffConfig
func (h *HandoffConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Secret   json.RawMessage `json:"secret"`
		TTL      string          `json:"ttl"`
		Audience string          `json:"audience"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.Audience = raw.Audience
	if err := secretField(raw.Secret, "handoff.secret", &h.Secret); err != nil {
		return err
	}
	return durationField(raw.TTL, "handoff.ttl", &h.TTL)
}

// UnmarshalJSON implements custom unmarshaling for TenantResolverConfig
func (t *TenantResolverConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind                ResolverKind      `json:"kind"`
		BackendURL          json.RawMessage   `json:"backendUrl"`
		Timeout             string            `json:"timeout"`
		CacheTTL            string            `json:"cacheTtl"`
		Domains             map[string]string `json:"domains"`
		GCPProject          json.RawMessage   `json:"gcpProject"`
		FirestoreDatabase   string            `json:"firestoreDatabase"`
		FirestoreCollection string            `json:"firestoreCollection"`
		Cache               CacheConfig       `json:"cache"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.Kind = raw.Kind
	t.Domains = raw.Domains
	t.FirestoreDatabase = raw.FirestoreDatabase
	t.FirestoreCollection = raw.FirestoreCollection
	t.Cache = raw.Cache

	if err := stringField(raw.BackendURL, "tenantResolver.backendUrl", &t.BackendURL); err != nil {
		return err
	}
	if err := stringField(raw.GCPProject, "tenantResolver.gcpProject", &t.GCPProject); err != nil {
		return err
	}
	if err := durationField(raw.Timeout, "tenantResolver.timeout", &t.Timeout); err != nil {
		return err
	}
	return durationField(raw.CacheTTL, "tenantResolver.cacheTtl", &t.CacheTTL)
}

// UnmarshalJSON implements custom unmarshaling for CacheConfig
func (c *CacheConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind          CacheKind       `json:"kind"`
		RedisAddr     json.RawMessage `json:"redisAddr"`
		RedisPassword json.RawMessage `json:"redisPassword"`
		RedisDB       int             `json:"redisDb"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Kind = raw.Kind
	c.RedisDB = raw.RedisDB
	if err := stringField(raw.RedisAddr, "cache.redisAddr", &c.RedisAddr); err != nil {
		return err
	}
	return secretField(raw.RedisPassword, "cache.redisPassword", &c.RedisPassword)
}
