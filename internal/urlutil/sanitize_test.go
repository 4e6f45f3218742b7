package urlutil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSanitizer() *Sanitizer {
	return NewSanitizer(NewHostPolicy("flexrz.com", []string{"*.bookings.example.net"}, true))
}

func TestResolveRelative(t *testing.T) {
	s := newTestSanitizer()

	dest, err := s.Resolve("/tenant/abc", "https://app.flexrz.com")
	require.NoError(t, err)
	assert.Equal(t, "https://app.flexrz.com/tenant/abc", dest.String())
	assert.False(t, dest.IsAbsolute)
	assert.Equal(t, "app.flexrz.com", dest.OriginHost)
	assert.Equal(t, "/tenant/abc", dest.Raw)
}

func TestResolveProtocolRelative(t *testing.T) {
	s := newTestSanitizer()

	dest, err := s.Resolve("//owner.flexrz.com/x", "https://app.flexrz.com")
	require.NoError(t, err)
	assert.Equal(t, "https://owner.flexrz.com/x", dest.String())
	assert.True(t, dest.IsAbsolute)

	dest, err = s.Resolve("//evil.example.com/x", "https://app.flexrz.com")
	assert.ErrorIs(t, err, ErrHostNotAllowed)
	assert.True(t, dest.IsAbsolute)
}

func TestResolveRejections(t *testing.T) {
	s := newTestSanitizer()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrEmpty},
		{"whitespace", "   ", ErrEmpty},
		{"foreign host", "https://evil.example.com/steal", ErrHostNotAllowed},
		{"protocol relative", "//evil.example.com/steal", ErrHostNotAllowed},
		{"javascript", "javascript:alert(1)", ErrProtocolNotAllowed},
		{"data", "data:text/html,hi", ErrProtocolNotAllowed},
		{"ftp", "ftp://app.flexrz.com/file", ErrProtocolNotAllowed},
		{"plain http", "http://app.flexrz.com/", ErrProtocolNotAllowed},
		{"backslash", "https:\\\\evil.example.com", ErrInvalidURL},
		{"control char", "https://app.flexrz.com/a\nb", ErrInvalidURL},
		{"userinfo", "https://user@app.flexrz.com/", ErrInvalidURL},
		{"bad escape host", "https://%zz/", ErrInvalidURL},
		{"wildcard bare suffix", "https://bookings.example.net/", ErrHostNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := s.Resolve(tt.raw, "https://app.flexrz.com")
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, dest.URL)
			assert.Empty(t, dest.String())
		})
	}
}

func TestResolveLocalDevProtocols(t *testing.T) {
	s := newTestSanitizer()

	for _, raw := range []string{
		"http://localhost:3000/dashboard",
		"https://localhost:3000/dashboard",
		"http://127.0.0.1:8080/",
		"http://app.localhost/",
		"http://mac.local/",
	} {
		t.Run(raw, func(t *testing.T) {
			dest, err := s.Resolve(raw, "https://app.flexrz.com")
			require.NoError(t, err)
			assert.Equal(t, raw, dest.String())
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	s := newTestSanitizer()

	for _, raw := range []string{
		"https://flexrz.com/book/birdie-golf",
		"https://app.flexrz.com/tenant/abc?tab=bookings",
		"https://golf.bookings.example.net/slots#today",
	} {
		t.Run(raw, func(t *testing.T) {
			first, err := s.Resolve(raw, "https://app.flexrz.com")
			require.NoError(t, err)
			assert.Equal(t, raw, first.String())
			assert.True(t, first.IsAbsolute)

			second, err := s.Resolve(first.String(), "https://app.flexrz.com")
			require.NoError(t, err)
			assert.Equal(t, first.String(), second.String())
		})
	}
}

func TestResolveDoubleEncoded(t *testing.T) {
	s := newTestSanitizer()
	original := "https://flexrz.com/book/birdie-golf"
	raw := url.QueryEscape(url.QueryEscape(original))

	dest, err := s.Resolve(raw, "https://app.flexrz.com")
	require.NoError(t, err)
	assert.Equal(t, original, dest.String())
}

func TestResolveNestedCallback(t *testing.T) {
	s := newTestSanitizer()

	t.Run("unwraps inner destination", func(t *testing.T) {
		inner := "https://app.flexrz.com/tenant/abc"
		raw := "https://auth.flexrz.com/auth/signin?callbackUrl=" + url.QueryEscape(inner)

		dest, err := s.Resolve(raw, "https://app.flexrz.com")
		require.NoError(t, err)
		assert.Equal(t, inner, dest.String())
	})

	t.Run("inner rejection rejects whole value", func(t *testing.T) {
		raw := "https://auth.flexrz.com/auth/signin?callbackUrl=" + url.QueryEscape("https://evil.example.com/")

		dest, err := s.Resolve(raw, "https://app.flexrz.com")
		assert.ErrorIs(t, err, ErrHostNotAllowed)
		assert.Equal(t, "evil.example.com", dest.RejectedHost)
		assert.Nil(t, dest.URL)
	})

	t.Run("relative inner value resolves against carrier origin", func(t *testing.T) {
		raw := "https://auth.flexrz.com/auth/signin?callbackUrl=" +
			url.QueryEscape("/return?to="+url.QueryEscape("https://owner.flexrz.com/x"))

		dest, err := s.Resolve(raw, "https://app.flexrz.com")
		require.NoError(t, err)
		assert.Equal(t, "auth.flexrz.com", dest.URL.Host)
		assert.Equal(t, "/return", dest.URL.Path)
		assert.Equal(t, "https://owner.flexrz.com/x", dest.URL.Query().Get("to"))
	})

	t.Run("relative outer and inner both use base origin", func(t *testing.T) {
		raw := "/auth/signin?callbackUrl=" + url.QueryEscape("/tenant/abc")

		dest, err := s.Resolve(raw, "https://app.flexrz.com")
		require.NoError(t, err)
		assert.Equal(t, "https://app.flexrz.com/tenant/abc", dest.String())
	})

	t.Run("bounded unwrapping strips leftover", func(t *testing.T) {
		raw := "https://app.flexrz.com/end"
		for i := 0; i < 5; i++ {
			raw = "https://auth.flexrz.com/auth/signin?callbackUrl=" + url.QueryEscape(raw)
		}

		dest, err := s.Resolve(raw, "https://app.flexrz.com")
		require.NoError(t, err)
		assert.Empty(t, dest.URL.Query().Get("callbackUrl"))
		assert.Equal(t, "auth.flexrz.com", dest.URL.Host)
	})
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain path untouched", "/tenant/a%20b", "/tenant/a%20b"},
		{"absolute untouched", "https://flexrz.com/a%2Fb", "https://flexrz.com/a%2Fb"},
		{"single encoded", "https%3A%2F%2Fflexrz.com%2F", "https://flexrz.com/"},
		{"malformed escape kept", "abc%zz", "abc%zz"},
		{"stops after two passes", "%25252F", "%2F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.in))
		})
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t,
		"https://birdie-golf.co.uk/welcome?keys=a,b#redacted",
		Redact("https://birdie-golf.co.uk/welcome?b=2&a=1#handoff=secret"))
	assert.Equal(t, "/tenant/abc", Redact("/tenant/abc"))
}
