// Package handoff signs the short-lived identity assertions that carry a
// signed-in user across to tenant custom domains, which cannot read the
// parent-domain session cookie.
package handoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/flexrz/auth-broker/internal/crypto"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL is used when no lifetime is configured.
	DefaultTTL = 120 * time.Second
	// MinTTL and MaxTTL bound the assertion lifetime.
	MinTTL = 60 * time.Second
	MaxTTL = 300 * time.Second

	// FragmentKey is the URL fragment parameter that carries the token.
	FragmentKey = "handoff"
)

var (
	// ErrNoSecret is returned by Sign when no signing secret is configured.
	ErrNoSecret = errors.New("handoff secret not configured")
	// ErrDestinationMismatch is returned by Verify when the token was minted
	// for another origin.
	ErrDestinationMismatch = errors.New("handoff destination mismatch")
)

// Identity is the subset of the session that travels in an assertion.
// Refresh tokens never do.
type Identity struct {
	Subject string
	Email   string
	IDToken string
}

// Claims is the JWT payload of a handoff assertion.
type Claims struct {
	jwt.RegisteredClaims
	Dest    string `json:"dest"`
	Email   string `json:"email,omitempty"`
	IDToken string `json:"gid,omitempty"`
}

// Signer mints and verifies HS256 handoff assertions.
type Signer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSigner creates a signer. The lifetime is clamped to [MinTTL, MaxTTL];
// zero selects DefaultTTL.
func NewSigner(secret []byte, issuer, audience string, ttl time.Duration) *Signer {
	return &Signer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		ttl:      ClampTTL(ttl),
		now:      time.Now,
	}
}

// WithClock returns a copy of the signer that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

// Enabled reports whether the signer has a secret to sign with.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// TTL returns the effective assertion lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// ClampTTL bounds ttl to the accepted assertion window.
func ClampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return DefaultTTL
	case ttl < MinTTL:
		return MinTTL
	case ttl > MaxTTL:
		return MaxTTL
	}
	return ttl
}

// Sign mints an assertion for id, bound to destOrigin.
func (s *Signer) Sign(id Identity, destOrigin string) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	if destOrigin == "" {
		return "", fmt.Errorf("handoff destination is required")
	}
	jti, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("generating handoff jti: %w", err)
	}

	iat := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.Subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(s.ttl)),
			ID:        jti,
		},
		Dest:    destOrigin,
		Email:   id.Email,
		IDToken: id.IDToken,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing handoff token: %w", err)
	}
	return token, nil
}

// Verify parses token and checks signature, algorithm, audience, issuer,
// expiry and destination.
func (s *Signer) Verify(token, expectedDest string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrNoSecret
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verifying handoff token: %w", err)
	}
	if claims.Dest != expectedDest {
		return nil, ErrDestinationMismatch
	}
	return claims, nil
}

// Fragment renders the URL fragment carrying token, without the leading '#'.
func Fragment(token string) string {
	return FragmentKey + "=" + token
}
