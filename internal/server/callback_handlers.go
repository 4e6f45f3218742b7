package server

import (
	"net/http"
	"strings"

	jsonwriter "github.com/flexrz/auth-broker/internal/json"
	"github.com/flexrz/auth-broker/internal/log"
	"github.com/flexrz/auth-broker/internal/tenant"
	"github.com/flexrz/auth-broker/internal/urlutil"
)

type setCallbackResponse struct {
	OK          bool   `json:"ok"`
	CallbackURL string `json:"callbackUrl"`
}

// SetCallback stores a sanitized callback URL in the callback cookie so a
// first-party page can pin where the next sign-in ends up.
func (h *BrokerHandlers) SetCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return
	}
	// Browsers always send Origin on cross-site POSTs.
	if origin := r.Header.Get("Origin"); origin != "" && !originAllowed(h.policy.Sanitizer().Policy(), origin) {
		log.LogWarnWithFields("callback", "Set-callback from foreign origin refused", map[string]any{
			"origin": origin,
		})
		jsonwriter.WriteError(w, http.StatusForbidden, "forbidden", "origin not allowed")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get(urlCallbackParam))
	if raw == "" {
		raw = strings.TrimSpace(r.PostFormValue(urlCallbackParam))
	}

	stored := strings.TrimSuffix(h.fallback, "/") + "/"
	t, err := h.resolveTarget(r.Context(), raw, h.appOrigin.String())
	switch {
	case err != nil:
		logRejected("callback", "Callback URL rejected", raw, err)
	case h.isAuthUI(t.url):
		log.LogDebugWithFields("callback", "Callback URL points at the sign-in UI", map[string]any{
			"path": t.url.Path,
		})
	default:
		stored = t.url.String()
	}

	h.jar.SetCallbackURL(w, stored)
	log.LogDebugWithFields("callback", "Callback URL stored", map[string]any{
		"callbackUrl": urlutil.Redact(stored),
	})
	_ = jsonwriter.Write(w, setCallbackResponse{OK: true, CallbackURL: stored})
}

// TenantSafetyNet sends tenant paths that reached a non-app host over to the
// app host, keeping the path and query.
func (h *BrokerHandlers) TenantSafetyNet(w http.ResponseWriter, r *http.Request) {
	if tenant.NormalizeHost(r.Host) == h.appOrigin.Hostname() {
		h.Fallback(w, r)
		return
	}

	dest := *h.appOrigin
	dest.Path = r.URL.Path
	dest.RawQuery = r.URL.RawQuery
	http.Redirect(w, r, dest.String(), http.StatusFound)
}
