package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/flexrz/auth-broker/internal/cookie"
	"github.com/flexrz/auth-broker/internal/handoff"
	"github.com/flexrz/auth-broker/internal/log"
	"github.com/flexrz/auth-broker/internal/pending"
	"github.com/flexrz/auth-broker/internal/redirect"
	"github.com/flexrz/auth-broker/internal/session"
	"github.com/flexrz/auth-broker/internal/urlutil"
)

const tenantPathPrefix = "/tenant/"

// bridgeParams are read in order; the callback cookie is the last resort.
var bridgeParams = []string{"returnTo", "return", "to", urlCallbackParam}

// Return is the terminal bounce: it resolves the final destination, marks
// the pending state consumed and answers with exactly one redirect.
func (h *BrokerHandlers) Return(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	rawTo := strings.TrimSpace(q.Get("to"))

	st, err := h.pending.Load(r)
	if err != nil {
		log.LogDebugWithFields("return", "Ignoring unreadable pending state", map[string]any{"error": err.Error()})
	}

	pendingDest := ""
	if st.IsPending() {
		pendingDest = st.Destination
	}
	candidate, _ := redirect.Pick(
		redirect.Query(rawTo),
		redirect.Pending(pendingDest),
		redirect.Default(h.fallback),
	)

	from := q.Get("from")
	if from == "" && candidate.Source == redirect.SourcePending {
		from = st.OriginHost
	}
	base := h.baseOrigin(ctx, from)

	t, err := h.resolveTarget(ctx, candidate.Value, base)
	switch {
	case err != nil:
		logRejected("return", "Return destination rejected", candidate.Value, err)
		t = h.fallbackTarget()
	case h.policy.IsReturnURL(t.url) || h.isAuthUI(t.url):
		log.LogDebugWithFields("return", "Return destination loops into the broker", map[string]any{
			"path": t.url.Path,
		})
		t = h.fallbackTarget()
	}

	h.applyLastTenant(w, r, t.url)

	if st.Status == pending.StatusPending {
		if err := h.pending.Consume(w, st); err != nil {
			log.LogWarnWithFields("return", "Failed to consume pending state", map[string]any{"error": err.Error()})
		}
	}

	var claims *session.IdentityClaims
	if t.tenant != nil {
		claims = h.currentIdentity(w, r)
	}
	h.finish(w, r, t, claims, string(candidate.Source))
}

// Bridge sends a signed-in browser to a destination that cannot read the
// parent-domain session, typically a tenant custom domain. Browsers without a
// session go through sign-in first and come back here.
func (h *BrokerHandlers) Bridge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	raw := ""
	for _, p := range bridgeParams {
		if v := strings.TrimSpace(q.Get(p)); v != "" {
			raw = v
			break
		}
	}
	if raw == "" {
		raw = h.jar.CallbackURL(r)
	}

	t, err := h.resolveTarget(ctx, raw, h.appOrigin.String())
	if err != nil {
		logRejected("bridge", "Bridge destination rejected", raw, err)
		h.Fallback(w, r)
		return
	}
	if h.policy.IsAuthHost(t.url) {
		log.LogDebugWithFields("bridge", "Bridge destination points back at the broker", map[string]any{
			"path": t.url.Path,
		})
		h.Fallback(w, r)
		return
	}

	claims := h.currentIdentity(w, r)
	if claims == nil {
		bridgeURL := h.policy.AuthURL("/bridge", url.Values{"returnTo": {t.url.String()}})
		signIn := h.policy.AuthURL("/auth/signin", url.Values{urlCallbackParam: {bridgeURL}})
		http.Redirect(w, r, signIn, http.StatusFound)
		return
	}

	h.finish(w, r, t, claims, "bridge")
}

func (h *BrokerHandlers) fallbackTarget() target {
	u, err := url.Parse(h.fallback)
	if err != nil {
		u = &url.URL{Scheme: "https", Host: h.policy.Sanitizer().Policy().Apex(), Path: "/"}
	}
	return target{url: u}
}

func (h *BrokerHandlers) currentIdentity(w http.ResponseWriter, r *http.Request) *session.IdentityClaims {
	claims, err := h.sessions.Current(w, r)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			log.LogWarnWithFields("session", "Failed to read session", map[string]any{"error": err.Error()})
		}
		return nil
	}
	return claims
}

// applyLastTenant rewrites a bare app-host destination to the last visited
// tenant and refreshes that cookie when the destination names a tenant.
func (h *BrokerHandlers) applyLastTenant(w http.ResponseWriter, r *http.Request, u *url.URL) {
	if !strings.EqualFold(u.Host, h.appOrigin.Host) {
		return
	}
	switch u.Path {
	case "", "/", "/tenant", "/tenant/":
		if slug, ok := h.jar.LastTenant(r); ok {
			u.Path = tenantPathPrefix + slug
			u.RawPath = ""
		}
		return
	}
	if rest, ok := strings.CutPrefix(u.Path, tenantPathPrefix); ok {
		slug, _, _ := strings.Cut(rest, "/")
		if cookie.ValidSlug(slug) {
			h.jar.SetLastTenant(w, slug)
		}
	}
}

// finish writes the single redirect. Registered tenant domains get a
// handoff assertion in the fragment when a session exists; everything else
// gets a plain redirect with no token.
func (h *BrokerHandlers) finish(w http.ResponseWriter, r *http.Request, t target, claims *session.IdentityClaims, source string) {
	dest := *t.url
	if strings.Contains(dest.Fragment, handoff.FragmentKey+"=") {
		dest.Fragment = ""
		dest.RawFragment = ""
	}

	fields := map[string]any{
		"source":      source,
		"destination": urlutil.Redact(dest.String()),
		"handoff":     false,
	}

	if t.tenant != nil && claims != nil {
		if token, ok := h.signHandoff(claims, &dest); ok {
			dest.Fragment = handoff.Fragment(token)
			dest.RawFragment = ""
			fields["handoff"] = true
			fields["tenant"] = t.tenant.Slug
		}
	}

	log.LogDebugWithFields("return", "Redirecting", fields)
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

func (h *BrokerHandlers) signHandoff(claims *session.IdentityClaims, dest *url.URL) (string, bool) {
	token, err := h.handoff.Sign(handoff.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		IDToken: claims.IDToken,
	}, urlutil.Origin(dest))
	if err != nil {
		log.LogWarnWithFields("handoff", "Handoff skipped", map[string]any{
			"host":  dest.Host,
			"error": err.Error(),
		})
		return "", false
	}
	return token, true
}
