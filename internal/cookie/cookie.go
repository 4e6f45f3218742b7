package cookie

import (
	"net/http"
	"regexp"
	"time"

	"github.com/flexrz/auth-broker/internal/log"
)

// Cookie names. Names with a secure variant get the __Secure- prefix when the
// jar writes Secure cookies; browsers reject that prefix on insecure cookies.
const (
	securePrefix = "__Secure-"

	CallbackURLCookie = "flexrz-auth.callback-url"
	SessionCookie     = "flexrz-auth.session-token"
	PendingCookie     = "flexrz-pending-return"
	LastTenantCookie  = "flexrz_last_tenant"
)

// LastTenantMaxAge is how long the last visited tenant is remembered.
const LastTenantMaxAge = 30 * 24 * time.Hour

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidSlug reports whether s is a well-formed tenant slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// Jar reads and writes the broker's cookies. Every cookie it writes is scoped
// to the shared parent domain (when configured), path "/", SameSite=Lax.
type Jar struct {
	secure bool
	domain string
}

// NewJar creates a jar. secure selects the Secure flag and the prefixed names;
// domain is the parent cookie domain, empty for host-only cookies.
func NewJar(secure bool, domain string) *Jar {
	return &Jar{secure: secure, domain: domain}
}

// Secure reports whether the jar writes Secure cookies.
func (j *Jar) Secure() bool {
	return j.secure
}

// SessionName returns the session cookie name for this deployment.
func (j *Jar) SessionName() string {
	if j.secure {
		return securePrefix + SessionCookie
	}
	return SessionCookie
}

func (j *Jar) set(w http.ResponseWriter, name, value string, maxAge time.Duration, httpOnly bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.domain,
		HttpOnly: httpOnly,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, c)

	log.LogTraceWithFields("cookie", "Cookie set", map[string]any{
		"name":     name,
		"domain":   j.domain,
		"maxAge":   maxAge.String(),
		"secure":   j.secure,
		"sameSite": "Lax",
	})
}

// Clear removes a cookie by setting MaxAge to -1
func (j *Jar) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   j.domain,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	log.LogTraceWithFields("cookie", "Cookie cleared", map[string]any{
		"name": name,
	})
}

// SetCallbackURL stores the post-login destination under both the secure and
// legacy names, replacing whatever was there before.
func (j *Jar) SetCallbackURL(w http.ResponseWriter, value string) {
	if j.secure {
		j.set(w, securePrefix+CallbackURLCookie, value, 0, true)
	}
	j.set(w, CallbackURLCookie, value, 0, true)
}

// CallbackURL returns the stored callback URL, preferring the secure name.
func (j *Jar) CallbackURL(r *http.Request) string {
	if v, err := Get(r, securePrefix+CallbackURLCookie); err == nil && v != "" {
		return v
	}
	v, _ := Get(r, CallbackURLCookie)
	return v
}

// ClearCallbackURL removes both callback cookie variants.
func (j *Jar) ClearCallbackURL(w http.ResponseWriter) {
	if j.secure {
		j.Clear(w, securePrefix+CallbackURLCookie)
	}
	j.Clear(w, CallbackURLCookie)
}

// SetPending stores the encoded pending-return state as a session cookie.
func (j *Jar) SetPending(w http.ResponseWriter, value string) {
	j.set(w, PendingCookie, value, 0, true)
}

// Pending returns the encoded pending-return state, or "".
func (j *Jar) Pending(r *http.Request) string {
	v, _ := Get(r, PendingCookie)
	return v
}

// SetLastTenant remembers the last visited tenant. Malformed slugs are ignored.
func (j *Jar) SetLastTenant(w http.ResponseWriter, slug string) {
	if !ValidSlug(slug) {
		return
	}
	j.set(w, LastTenantCookie, slug, LastTenantMaxAge, false)
}

// LastTenant returns the remembered tenant slug when present and well formed.
func (j *Jar) LastTenant(r *http.Request) (string, bool) {
	v, err := Get(r, LastTenantCookie)
	if err != nil || !ValidSlug(v) {
		return "", false
	}
	return v, true
}

// SetSession sets the session cookie with appropriate security settings
func (j *Jar) SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	j.set(w, j.SessionName(), value, maxAge, true)
}

// Session retrieves the session cookie value
func (j *Jar) Session(r *http.Request) (string, error) {
	return Get(r, j.SessionName())
}

// ClearSession removes the session cookie
func (j *Jar) ClearSession(w http.ResponseWriter) {
	j.Clear(w, j.SessionName())
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
