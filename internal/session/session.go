// Package session keeps the signed-in identity in an encrypted cookie scoped
// to the parent domain, so every first-party subdomain shares it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flexrz/auth-broker/internal/cookie"
	"github.com/flexrz/auth-broker/internal/log"
	"github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"
)

const (
	// DefaultTTL is the session lifetime.
	DefaultTTL = 30 * 24 * time.Hour
	// UpdateAge is how often a live session cookie is re-issued.
	UpdateAge = 6 * time.Hour
	// RefreshLeeway refreshes the Google access token this long before expiry.
	RefreshLeeway = 60 * time.Second
	// DefaultRefreshTimeout bounds the token refresh made while serving a redirect.
	DefaultRefreshTimeout = 1500 * time.Millisecond
)

// ErrNoSession is returned when the request carries no usable session.
var ErrNoSession = errors.New("no session")

// Refresh error codes recorded on IdentityClaims.RefreshError.
const (
	RefreshErrNoRefreshToken = "no_refresh_token"
	RefreshErrFailed         = "refresh_failed"
)

// IdentityClaims is the identity held in the session cookie.
type IdentityClaims struct {
	Subject           string    `json:"sub"`
	Email             string    `json:"email,omitempty"`
	Name              string    `json:"name,omitempty"`
	IDToken           string    `json:"google_id_token,omitempty"`
	AccessToken       string    `json:"google_access_token,omitempty"`
	RefreshToken      string    `json:"google_refresh_token,omitempty"`
	AccessTokenExpiry time.Time `json:"google_access_token_expires_at,omitzero"`
	RefreshError      string    `json:"error,omitempty"`
	IssuedAt          time.Time `json:"iat"`
	ExpiresAt         time.Time `json:"exp"`
}

// Provider returns the identity of the current request.
type Provider interface {
	Current(w http.ResponseWriter, r *http.Request) (*IdentityClaims, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Manager encrypts identities into the session cookie (JWE, dir + A256GCM)
// and reads them back.
type Manager struct {
	key       []byte
	jar       *cookie.Jar
	ttl       time.Duration
	refresher Refresher
	timeout   time.Duration
	now       func() time.Time
}

// NewManager creates a manager. key must be 32 bytes.
func NewManager(key []byte, jar *cookie.Jar, ttl time.Duration) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(key))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		key:     key,
		jar:     jar,
		ttl:     ttl,
		timeout: DefaultRefreshTimeout,
		now:     time.Now,
	}, nil
}

// WithRefresher returns a copy of the manager that refreshes access tokens
// through r.
func (m *Manager) WithRefresher(r Refresher) *Manager {
	cp := *m
	cp.refresher = r
	return &cp
}

// WithRefreshTimeout returns a copy of the manager that gives up on a token
// refresh after d.
func (m *Manager) WithRefreshTimeout(d time.Duration) *Manager {
	cp := *m
	if d > 0 {
		cp.timeout = d
	}
	return &cp
}

// WithClock returns a copy of the manager that reads time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

// Issue stamps claims with a fresh lifetime and writes the session cookie.
func (m *Manager) Issue(w http.ResponseWriter, claims IdentityClaims) (*IdentityClaims, error) {
	now := m.now().UTC().Truncate(time.Second)
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(m.ttl)

	token, err := m.Encode(claims)
	if err != nil {
		return nil, err
	}
	m.jar.SetSession(w, token, m.ttl)
	log.LogTraceWithFields("session", "Session issued", map[string]any{
		"email":   claims.Email,
		"expires": claims.ExpiresAt,
	})
	return &claims, nil
}

// Read decrypts the session cookie. Missing, undecryptable and expired
// sessions all yield ErrNoSession.
func (m *Manager) Read(r *http.Request) (*IdentityClaims, error) {
	raw, err := m.jar.Session(r)
	if err != nil || raw == "" {
		return nil, ErrNoSession
	}
	claims, err := m.Decode(raw)
	if err != nil {
		log.LogDebugWithFields("session", "Discarding unreadable session cookie", map[string]any{
			"error": err.Error(),
		})
		return nil, ErrNoSession
	}
	if !m.now().Before(claims.ExpiresAt) {
		return nil, ErrNoSession
	}
	return claims, nil
}

// Clear removes the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	m.jar.ClearSession(w)
}

// Current reads the session, refreshing the Google access token when it is
// about to expire and re-issuing the cookie when it changed or aged past
// UpdateAge. Refresh failures keep the session and record the error code.
func (m *Manager) Current(w http.ResponseWriter, r *http.Request) (*IdentityClaims, error) {
	claims, err := m.Read(r)
	if err != nil {
		return nil, err
	}

	now := m.now()
	changed := false
	if m.needsRefresh(claims, now) {
		changed = m.refresh(r.Context(), claims)
	}
	if !changed && now.Sub(claims.IssuedAt) < UpdateAge {
		return claims, nil
	}

	// Re-issuing slides the expiry forward.
	issued, err := m.Issue(w, *claims)
	if err != nil {
		log.LogWarnWithFields("session", "Failed to re-issue session cookie", map[string]any{
			"error": err.Error(),
		})
		return claims, nil
	}
	return issued, nil
}

func (m *Manager) needsRefresh(c *IdentityClaims, now time.Time) bool {
	if c.AccessTokenExpiry.IsZero() {
		return false
	}
	return now.After(c.AccessTokenExpiry.Add(-RefreshLeeway))
}

func (m *Manager) refresh(ctx context.Context, c *IdentityClaims) bool {
	if c.RefreshToken == "" {
		if c.RefreshError == RefreshErrNoRefreshToken {
			return false
		}
		c.RefreshError = RefreshErrNoRefreshToken
		return true
	}
	if m.refresher == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tok, err := m.refresher.Refresh(ctx, c.RefreshToken)
	if err != nil {
		log.LogWarnWithFields("session", "Access token refresh failed", map[string]any{
			"email": c.Email,
			"error": err.Error(),
		})
		c.RefreshError = RefreshErrFailed
		return true
	}

	if tok.AccessToken != "" {
		c.AccessToken = tok.AccessToken
	}
	if !tok.Expiry.IsZero() {
		c.AccessTokenExpiry = tok.Expiry.UTC()
	}
	if tok.RefreshToken != "" {
		c.RefreshToken = tok.RefreshToken
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		c.IDToken = idToken
	}
	c.RefreshError = ""
	log.LogDebugWithFields("session", "Access token refreshed", map[string]any{
		"email":  c.Email,
		"expiry": c.AccessTokenExpiry,
	})
	return true
}

// Encode encrypts claims into a compact JWE.
func (m *Manager) Encode(claims IdentityClaims) (string, error) {
	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: m.key},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating encrypter: %w", err)
	}

	obj, err := enc.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypting session: %w", err)
	}
	return obj.CompactSerialize()
}

// Decode decrypts a compact JWE produced by Encode.
func (m *Manager) Decode(token string) (*IdentityClaims, error) {
	obj, err := jose.ParseEncrypted(token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("parsing JWE: %w", err)
	}

	plaintext, err := obj.Decrypt(m.key)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	var claims IdentityClaims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	if claims.Subject == "" && claims.Email == "" {
		return nil, fmt.Errorf("session has no subject")
	}
	return &claims, nil
}
