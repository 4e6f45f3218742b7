package server

import (
	"context"
	"net/http"
	"time"

	"github.com/flexrz/auth-broker/internal/idp"
	"github.com/flexrz/auth-broker/internal/log"
	"github.com/flexrz/auth-broker/internal/redirect"
	"github.com/flexrz/auth-broker/internal/session"
	"github.com/flexrz/auth-broker/internal/urlutil"
)

// SignIn pins the post-login destination and starts the Google round trip.
// A browser that already has a session goes straight to /return.
func (h *BrokerHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := q.Get("from")
	if from == "" {
		from = refererHost(r)
	}
	base := h.baseOrigin(r.Context(), from)

	candidate, _ := redirect.Pick(
		redirect.Query(q.Get("returnTo")),
		redirect.Query(q.Get(urlCallbackParam)),
		redirect.Referer(r.Header.Get("Referer")),
		redirect.Default(h.fallback),
	)
	dest, from := h.signInDestination(r.Context(), candidate, base, from)

	if _, err := h.sessions.Current(w, r); err == nil {
		log.LogDebugWithFields("auth", "Already signed in, skipping Google", map[string]any{
			"destination": urlutil.Redact(dest),
		})
		http.Redirect(w, r, h.policy.ReturnURL(dest, from), http.StatusFound)
		return
	}

	st, err := h.pending.Begin(w, dest, from)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to start pending return", map[string]any{"error": err.Error()})
		h.Fallback(w, r)
		return
	}
	h.jar.SetCallbackURL(w, h.policy.ReturnURL(dest, from))

	state, err := h.stateToken.Sign(oauthState{Nonce: st.Nonce})
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to sign OAuth state", map[string]any{"error": err.Error()})
		h.Fallback(w, r)
		return
	}

	log.LogInfoWithFields("auth", "Sign-in started", map[string]any{
		"source":      string(candidate.Source),
		"destination": urlutil.Redact(dest),
		"from":        from,
	})
	http.Redirect(w, r, h.idp.AuthURL(state), http.StatusFound)
}

const urlCallbackParam = "callbackUrl"

// signInDestination turns the picked candidate into the absolute final
// destination. A /return URL is unwrapped to its own target so the pending
// state always names where the user ends up.
func (h *BrokerHandlers) signInDestination(ctx context.Context, c redirect.Candidate, base, from string) (string, string) {
	t, err := h.resolveTarget(ctx, c.Value, base)
	if err != nil {
		logRejected("auth", "Sign-in destination rejected", c.Value, err)
		return h.fallback, from
	}

	if h.policy.IsReturnURL(t.url) {
		inner := t.url.Query()
		if f := inner.Get("from"); f != "" {
			from = f
			base = h.baseOrigin(ctx, f)
		}
		t, err = h.resolveTarget(ctx, inner.Get("to"), base)
		if err != nil || h.policy.IsReturnURL(t.url) {
			return h.fallback, from
		}
	}

	if h.isAuthUI(t.url) {
		return h.fallback, from
	}
	return t.url.String(), from
}

// GoogleCallback finishes the Google round trip: it checks the state against
// the pending cookie, lets x/oauth2 exchange the code, issues the session and
// re-asserts the pinned destination before bouncing through the redirect
// policy. Every failure lands on the fallback URL.
func (h *BrokerHandlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errMsg := q.Get("error"); errMsg != "" {
		log.LogWarnWithFields("auth", "Google returned an error", map[string]any{
			"error":       errMsg,
			"description": q.Get("error_description"),
		})
		h.Fallback(w, r)
		return
	}

	code, stateToken := q.Get("code"), q.Get("state")
	if code == "" || stateToken == "" {
		log.LogWarnWithFields("auth", "Missing state or code in callback", nil)
		h.Fallback(w, r)
		return
	}

	var state oauthState
	if err := h.stateToken.Verify(stateToken, &state); err != nil {
		log.LogWarnWithFields("auth", "Invalid OAuth state", map[string]any{"error": err.Error()})
		h.Fallback(w, r)
		return
	}

	st, err := h.pending.Load(r)
	if err != nil || !st.IsPending() || st.Nonce != state.Nonce {
		fields := map[string]any{"state": string(st.Status)}
		if err != nil {
			fields["error"] = err.Error()
		}
		log.LogWarnWithFields("auth", "OAuth state does not match pending return", fields)
		h.Fallback(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	token, err := h.idp.ExchangeCode(ctx, code)
	if err != nil {
		log.LogErrorWithFields("auth", "Code exchange failed", map[string]any{"error": err.Error()})
		h.Fallback(w, r)
		return
	}

	info, err := h.idp.UserInfo(ctx, token)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to load user info", map[string]any{"error": err.Error()})
		h.Fallback(w, r)
		return
	}

	claims, err := h.sessions.Issue(w, session.IdentityClaims{
		Subject:           info.Subject,
		Email:             info.Email,
		Name:              info.Name,
		IDToken:           idp.IDToken(token),
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		AccessTokenExpiry: token.Expiry.UTC(),
	})
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to issue session", map[string]any{"error": err.Error()})
		h.Fallback(w, r)
		return
	}

	returnURL := h.policy.ReturnURL(st.Destination, st.OriginHost)
	h.jar.SetCallbackURL(w, returnURL)
	if err := h.pending.Save(w, st); err != nil {
		log.LogWarnWithFields("auth", "Failed to re-assert pending return", map[string]any{"error": err.Error()})
	}

	log.LogInfoWithFields("auth", "User signed in", map[string]any{
		"email":       claims.Email,
		"destination": urlutil.Redact(st.Destination),
	})
	http.Redirect(w, r, h.policy.Decide(returnURL), http.StatusFound)
}

// SignOut clears the session and follows callbackUrl through the redirect
// policy.
func (h *BrokerHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	h.jar.ClearCallbackURL(w)
	dest := h.policy.Decide(r.URL.Query().Get(urlCallbackParam))
	log.LogInfoWithFields("auth", "Signed out", map[string]any{
		"destination": urlutil.Redact(dest),
	})
	http.Redirect(w, r, dest, http.StatusFound)
}
