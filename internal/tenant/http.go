package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/flexrz/auth-broker/internal/ioutil"
)

// ResolvePath is the backend's public domain lookup endpoint.
const ResolvePath = "/api/tenant-domains/_public/resolve"

const maxResponseBytes = 64 << 10

// HTTPResolver asks the Flexrz backend which tenant owns a domain.
type HTTPResolver struct {
	endpoint *url.URL
	client   *http.Client
}

type resolveResponse struct {
	Slug       string `json:"slug"`
	TenantSlug string `json:"tenantSlug"`
	Domain     string `json:"domain"`
}

// NewHTTPResolver creates a resolver against backendURL. A nil client uses
// http.DefaultClient; request deadlines come from the caller's context.
func NewHTTPResolver(backendURL string, client *http.Client) (*HTTPResolver, error) {
	if backendURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	base, err := url.Parse(backendURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", backendURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{
		endpoint: base.ResolveReference(&url.URL{Path: ResolvePath}),
		client:   client,
	}, nil
}

// Resolve implements Resolver. A 404 or an answer without a slug is a
// definitive "not registered"; any other failure is returned as an error.
func (h *HTTPResolver) Resolve(ctx context.Context, host string) (Tenant, error) {
	host = NormalizeHost(host)
	if host == "" {
		return Tenant{}, ErrNotRegistered
	}

	u := *h.endpoint
	u.RawQuery = url.Values{"domain": {host}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Tenant{}, fmt.Errorf("building resolve request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Tenant{}, fmt.Errorf("resolving %s: %w", host, err)
	}
	defer ioutil.DrainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Tenant{}, ErrNotRegistered
	case resp.StatusCode != http.StatusOK:
		return Tenant{}, fmt.Errorf("resolving %s: status %d: %s", host, resp.StatusCode, ioutil.ReadLimited(resp.Body, 512))
	}

	var body resolveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return Tenant{}, fmt.Errorf("decoding resolve response: %w", err)
	}

	slug := strings.TrimSpace(body.Slug)
	if slug == "" {
		slug = strings.TrimSpace(body.TenantSlug)
	}
	if slug == "" {
		return Tenant{}, ErrNotRegistered
	}
	return Tenant{Slug: slug, Domain: host}, nil
}
