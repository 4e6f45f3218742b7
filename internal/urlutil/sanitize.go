package urlutil

import (
	"errors"
	"net/url"
	"sort"
	"strings"
)

const (
	// maxDecodePasses bounds percent-decoding of values that went through
	// several redirect hops.
	maxDecodePasses = 2

	// maxNestedCallbacks bounds how many callbackUrl layers are unwrapped.
	maxNestedCallbacks = 3

	nestedCallbackParam = "callbackUrl"
)

// Rejection reasons. Resolve always returns one of these on failure.
var (
	ErrEmpty              = errors.New("empty url")
	ErrInvalidURL         = errors.New("invalid url")
	ErrProtocolNotAllowed = errors.New("protocol not allowed")
	ErrHostNotAllowed     = errors.New("host not allowed")
)

// Destination is a candidate return destination and its resolution.
// URL is nil when the candidate was rejected. RejectedHost names the host
// that failed the policy when the error is ErrHostNotAllowed.
type Destination struct {
	Raw          string
	URL          *url.URL
	OriginHost   string
	IsAbsolute   bool
	RejectedHost string
}

// String returns the resolved URL, or "" for a rejected destination.
func (d Destination) String() string {
	if d.URL == nil {
		return ""
	}
	return d.URL.String()
}

// Sanitizer validates and normalises return destinations against a HostPolicy.
// It holds no other state, so a Sanitizer is safe for concurrent use.
type Sanitizer struct {
	policy HostPolicy
}

// NewSanitizer creates a sanitizer bound to policy.
func NewSanitizer(policy HostPolicy) *Sanitizer {
	return &Sanitizer{policy: policy}
}

// Policy returns the host policy the sanitizer validates against.
func (s *Sanitizer) Policy() HostPolicy {
	return s.policy
}

// WithHosts returns a sanitizer whose policy also admits hosts.
func (s *Sanitizer) WithHosts(hosts ...string) *Sanitizer {
	return &Sanitizer{policy: s.policy.WithHosts(hosts...)}
}

// Resolve validates raw, resolving relative values against baseOrigin.
// A relative nested callbackUrl resolves against the origin of the URL that
// carried it. The returned Destination carries the absolute URL on success. On
// failure the error is one of the rejection sentinels and Destination.URL is nil.
func (s *Sanitizer) Resolve(raw, baseOrigin string) (Destination, error) {
	dest := Destination{Raw: raw}
	if base, err := url.Parse(baseOrigin); err == nil {
		dest.OriginHost = strings.ToLower(base.Host)
	}

	candidate := Decode(strings.TrimSpace(raw))
	if candidate == "" {
		return dest, ErrEmpty
	}
	dest.IsAbsolute = isAbsolute(candidate)

	base := baseOrigin
	for layer := 0; ; layer++ {
		u, err := s.resolveOne(candidate, base)
		if err != nil {
			if errors.Is(err, ErrHostNotAllowed) {
				dest.RejectedHost = strings.ToLower(u.Hostname())
			}
			return dest, err
		}

		q := u.Query()
		inner := q.Get(nestedCallbackParam)
		if inner == "" {
			dest.URL = u
			return dest, nil
		}
		if layer == maxNestedCallbacks {
			q.Del(nestedCallbackParam)
			u.RawQuery = q.Encode()
			dest.URL = u
			return dest, nil
		}
		candidate = Decode(inner)
		base = Origin(u)
	}
}

// Allowed reports whether raw resolves successfully against baseOrigin.
func (s *Sanitizer) Allowed(raw, baseOrigin string) bool {
	_, err := s.Resolve(raw, baseOrigin)
	return err == nil
}

func (s *Sanitizer) resolveOne(candidate, baseOrigin string) (*url.URL, error) {
	if hasForbiddenChars(candidate) {
		return nil, ErrInvalidURL
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return nil, ErrInvalidURL
	}

	u := parsed
	if parsed.Scheme == "" {
		base, err := url.Parse(baseOrigin)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, ErrInvalidURL
		}
		u = base.ResolveReference(parsed)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return nil, ErrProtocolNotAllowed
	}
	if u.User != nil || u.Opaque != "" {
		return nil, ErrInvalidURL
	}
	host := u.Hostname()
	if host == "" {
		return nil, ErrInvalidURL
	}
	if scheme == "http" && !IsLocalDevHost(host) {
		return nil, ErrProtocolNotAllowed
	}
	if !s.policy.Allows(host) {
		return u, ErrHostNotAllowed
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	return u, nil
}

// Decode percent-decodes v at most twice. It stops as soon as v reads as a URL
// or path, when a pass changes nothing, or when a pass fails; the last good
// value is returned in every case.
func Decode(v string) string {
	for i := 0; i < maxDecodePasses; i++ {
		if isAbsolute(v) || strings.HasPrefix(v, "/") {
			break
		}
		decoded, err := url.PathUnescape(v)
		if err != nil || decoded == v {
			break
		}
		v = decoded
	}
	return v
}

// isAbsolute reports whether v names its own host, including the
// protocol-relative //host form.
func isAbsolute(v string) bool {
	return strings.HasPrefix(v, "//") || strings.Contains(v, "://")
}

func hasForbiddenChars(v string) bool {
	if strings.ContainsRune(v, '\\') {
		return true
	}
	for _, r := range v {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// Redact strips query values and the fragment so URLs can be logged without
// leaking tokens.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	out := u.Scheme + "://" + u.Host + u.EscapedPath()
	if u.Scheme == "" {
		out = u.EscapedPath()
	}
	if u.RawQuery != "" {
		keys := make([]string, 0)
		for k := range u.Query() {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out += "?keys=" + strings.Join(keys, ",")
	}
	if u.Fragment != "" {
		out += "#redacted"
	}
	return out
}
