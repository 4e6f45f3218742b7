package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flexrz/auth-broker/internal/cookie"
	"github.com/flexrz/auth-broker/internal/crypto"
	"github.com/flexrz/auth-broker/internal/handoff"
	"github.com/flexrz/auth-broker/internal/idp"
	"github.com/flexrz/auth-broker/internal/log"
	"github.com/flexrz/auth-broker/internal/pending"
	"github.com/flexrz/auth-broker/internal/redirect"
	"github.com/flexrz/auth-broker/internal/session"
	"github.com/flexrz/auth-broker/internal/tenant"
	"github.com/flexrz/auth-broker/internal/urlutil"
)

// stateTTL bounds the Google round trip.
const stateTTL = 10 * time.Minute

// SessionStore is the session collaborator the handlers need.
type SessionStore interface {
	session.Provider
	Issue(w http.ResponseWriter, claims session.IdentityClaims) (*session.IdentityClaims, error)
	Clear(w http.ResponseWriter)
}

// Dependencies wires the broker handlers.
type Dependencies struct {
	Policy      *redirect.Policy
	Jar         *cookie.Jar
	Pending     *pending.Store
	Sessions    SessionStore
	IDP         idp.Provider
	Handoff     *handoff.Signer
	Resolver    tenant.Resolver
	StateKey    []byte
	AppOrigin   string
	FallbackURL string
}

// BrokerHandlers serves the sign-in, return and bridge endpoints.
type BrokerHandlers struct {
	policy     *redirect.Policy
	jar        *cookie.Jar
	pending    *pending.Store
	sessions   SessionStore
	idp        idp.Provider
	handoff    *handoff.Signer
	resolver   tenant.Resolver
	stateToken crypto.TokenSigner
	appOrigin  *url.URL
	fallback   string
}

// oauthState is carried through Google in the state parameter. The nonce
// ties the round trip to the pending-return cookie of the same browser.
type oauthState struct {
	Nonce string `json:"nonce"`
}

// NewBrokerHandlers creates the handlers.
func NewBrokerHandlers(deps Dependencies) (*BrokerHandlers, error) {
	appOrigin, err := url.Parse(deps.AppOrigin)
	if err != nil || appOrigin.Host == "" {
		return nil, fmt.Errorf("invalid app origin %q", deps.AppOrigin)
	}
	if deps.FallbackURL == "" {
		return nil, fmt.Errorf("fallback URL is required")
	}
	if len(deps.StateKey) == 0 {
		return nil, fmt.Errorf("state key is required")
	}
	return &BrokerHandlers{
		policy:     deps.Policy,
		jar:        deps.Jar,
		pending:    deps.Pending,
		sessions:   deps.Sessions,
		idp:        deps.IDP,
		handoff:    deps.Handoff,
		resolver:   deps.Resolver,
		stateToken: crypto.NewTokenSigner(deps.StateKey, stateTTL),
		appOrigin:  &url.URL{Scheme: appOrigin.Scheme, Host: strings.ToLower(appOrigin.Host)},
		fallback:   deps.FallbackURL,
	}, nil
}

// Fallback sends the browser to the fixed fallback URL.
func (h *BrokerHandlers) Fallback(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.fallback, http.StatusFound)
}

// target is a validated destination. Tenant is set when the host was
// admitted because a tenant registered it, not by the host policy.
type target struct {
	url    *url.URL
	tenant *tenant.Tenant
}

// resolveTarget validates raw against the policy, consulting the tenant
// resolver for hosts the policy rejects.
func (h *BrokerHandlers) resolveTarget(ctx context.Context, raw, base string) (target, error) {
	sanitizer := h.policy.Sanitizer()
	dest, err := sanitizer.Resolve(raw, base)
	if err == nil {
		return target{url: dest.URL}, nil
	}
	if !errors.Is(err, urlutil.ErrHostNotAllowed) || dest.RejectedHost == "" || h.resolver == nil {
		return target{}, err
	}

	t, rerr := h.resolver.Resolve(ctx, dest.RejectedHost)
	if rerr != nil {
		log.LogDebugWithFields("broker", "Host is not a registered tenant domain", map[string]any{
			"host":   dest.RejectedHost,
			"reason": rerr.Error(),
		})
		return target{}, err
	}

	dest, err = sanitizer.WithHosts(dest.RejectedHost).Resolve(raw, base)
	if err != nil {
		return target{}, err
	}
	return target{url: dest.URL, tenant: &t}, nil
}

// baseOrigin picks the origin relative destinations resolve against: the
// caller's origin when it is trusted, the app origin otherwise.
func (h *BrokerHandlers) baseOrigin(ctx context.Context, from string) string {
	from = strings.ToLower(strings.TrimSpace(from))
	if from == "" || strings.ContainsAny(from, "/\\@?#") {
		return h.appOrigin.String()
	}
	hostname := from
	if hn, _, err := net.SplitHostPort(from); err == nil {
		hostname = hn
	}

	scheme := "https"
	if urlutil.IsLocalDevHost(hostname) {
		scheme = "http"
	}
	if h.policy.Sanitizer().Policy().Allows(hostname) {
		return scheme + "://" + from
	}
	if h.resolver != nil {
		if _, err := h.resolver.Resolve(ctx, hostname); err == nil {
			return "https://" + from
		}
	}
	return h.appOrigin.String()
}

func (h *BrokerHandlers) isAuthUI(u *url.URL) bool {
	return h.policy.IsAuthHost(u) && redirect.IsAuthUIPath(u.Path)
}

func refererHost(r *http.Request) string {
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func logRejected(component, msg string, raw string, err error) {
	if errors.Is(err, urlutil.ErrEmpty) {
		return
	}
	log.LogDebugWithFields(component, msg, map[string]any{
		"reason":    err.Error(),
		"requested": urlutil.Redact(urlutil.Decode(raw)),
	})
}
