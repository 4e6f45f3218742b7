// Package tenant maps custom domains to the tenants that registered them.
//
// Lookups fail closed: a domain is treated as registered only after a backend
// positively confirmed it.
package tenant

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrNotRegistered is returned when a domain belongs to no tenant, or when
// that could not be established.
var ErrNotRegistered = errors.New("domain not registered to a tenant")

// Tenant is a resolved custom-domain registration.
type Tenant struct {
	Slug   string `json:"slug"`
	Domain string `json:"domain"`
}

// Resolver looks up the tenant owning host.
type Resolver interface {
	Resolve(ctx context.Context, host string) (Tenant, error)
}

// NormalizeHost lowercases host and strips any port and trailing dot.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
