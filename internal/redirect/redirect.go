// Package redirect decides where the browser goes after sign-in, the OAuth
// callback and sign-out. Decisions are anchored to the broker's own origin and
// never fail: anything unacceptable degrades to that origin.
package redirect

import (
	"errors"
	"net/url"
	"strings"

	"github.com/flexrz/auth-broker/internal/log"
	"github.com/flexrz/auth-broker/internal/urlutil"
)

// ReturnPath is the broker's terminal bounce-through endpoint.
const ReturnPath = "/return"

// Policy applies the redirect decision for one auth origin.
type Policy struct {
	authOrigin *url.URL
	sanitizer  *urlutil.Sanitizer
}

// NewPolicy creates a policy. The auth host is always admitted, whatever the
// sanitizer's host policy says about it.
func NewPolicy(authOrigin *url.URL, sanitizer *urlutil.Sanitizer) *Policy {
	origin := &url.URL{Scheme: authOrigin.Scheme, Host: strings.ToLower(authOrigin.Host)}
	return &Policy{
		authOrigin: origin,
		sanitizer:  sanitizer.WithHosts(origin.Host),
	}
}

// AuthOrigin returns the canonical auth origin, e.g. https://auth.flexrz.com.
func (p *Policy) AuthOrigin() string {
	return p.authOrigin.String()
}

// Sanitizer returns the sanitizer that admits the auth host.
func (p *Policy) Sanitizer() *urlutil.Sanitizer {
	return p.sanitizer
}

// IsAuthHost reports whether u is on the auth origin's host.
func (p *Policy) IsAuthHost(u *url.URL) bool {
	return u != nil && p.isAuthHost(u)
}

// AuthURL builds an absolute URL on the auth origin.
func (p *Policy) AuthURL(path string, q url.Values) string {
	u := *p.authOrigin
	u.Path = path
	u.RawQuery = q.Encode()
	return u.String()
}

// ReturnURL builds the canonical /return URL on the auth origin.
func (p *Policy) ReturnURL(to, from string) string {
	q := url.Values{}
	if to != "" {
		q.Set("to", to)
	}
	if from != "" {
		q.Set("from", from)
	}
	return p.AuthURL(ReturnPath, q)
}

// Decide returns the absolute URL to redirect to for requested.
func (p *Policy) Decide(requested string) string {
	dest, err := p.sanitizer.Resolve(requested, p.authOrigin.String())
	if err != nil {
		if !errors.Is(err, urlutil.ErrEmpty) {
			log.LogDebugWithFields("redirect", "Requested URL rejected", map[string]any{
				"reason":    err.Error(),
				"requested": urlutil.Redact(urlutil.Decode(requested)),
			})
		}
		return p.AuthOrigin()
	}

	if !p.isAuthHost(dest.URL) {
		return dest.String()
	}
	if dest.URL.Path == ReturnPath {
		return dest.String()
	}
	if IsAuthUIPath(dest.URL.Path) {
		log.LogDebugWithFields("redirect", "Auth UI destination replaced by auth origin", map[string]any{
			"path": dest.URL.Path,
		})
		return p.AuthOrigin()
	}
	return dest.String()
}

// IsReturnURL reports whether u points at /return on the auth origin.
func (p *Policy) IsReturnURL(u *url.URL) bool {
	return u != nil && p.isAuthHost(u) && strings.TrimSuffix(u.Path, "/") == ReturnPath
}

func (p *Policy) isAuthHost(u *url.URL) bool {
	return strings.EqualFold(u.Host, p.authOrigin.Host)
}

// IsAuthUIPath reports whether path belongs to the broker's sign-in UI, which is
// never a valid terminal destination.
func IsAuthUIPath(path string) bool {
	path = strings.ToLower(path)
	return path == "/auth" || strings.HasPrefix(path, "/auth/") ||
		path == "/api/auth" || strings.HasPrefix(path, "/api/auth/")
}

// Decide is a convenience wrapper around NewPolicy(...).Decide.
func Decide(requested string, authOrigin *url.URL, sanitizer *urlutil.Sanitizer) string {
	return NewPolicy(authOrigin, sanitizer).Decide(requested)
}
