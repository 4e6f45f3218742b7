package urlutil

import (
	"net"
	"strings"
)

// HostPolicy is the closed set of hosts a redirect may target: the apex domain
// and its subdomains, exact allow-list entries, "*.suffix" wildcard entries and,
// when enabled, local development hosts. Anything else is rejected.
type HostPolicy struct {
	apex          string
	exact         map[string]struct{}
	wildcards     []string // stored with the leading dot, e.g. ".example.com"
	allowLocalDev bool
}

// NewHostPolicy builds a policy from the apex domain and allow-list entries.
// Entries starting with "*." are wildcard rules matching subdomains only.
func NewHostPolicy(apex string, allowed []string, allowLocalDev bool) HostPolicy {
	p := HostPolicy{
		apex:          normalizeHost(apex),
		exact:         make(map[string]struct{}),
		allowLocalDev: allowLocalDev,
	}
	for _, entry := range allowed {
		p.add(entry)
	}
	return p
}

func (p *HostPolicy) add(entry string) {
	entry = normalizeHost(entry)
	if entry == "" {
		return
	}
	if strings.HasPrefix(entry, "*.") {
		if len(entry) > 2 {
			p.wildcards = append(p.wildcards, entry[1:])
		}
		return
	}
	p.exact[entry] = struct{}{}
}

// WithHosts returns a copy of the policy that also admits the given exact hosts.
// The receiver is left untouched.
func (p HostPolicy) WithHosts(hosts ...string) HostPolicy {
	cp := HostPolicy{
		apex:          p.apex,
		exact:         make(map[string]struct{}, len(p.exact)+len(hosts)),
		wildcards:     append([]string(nil), p.wildcards...),
		allowLocalDev: p.allowLocalDev,
	}
	for h := range p.exact {
		cp.exact[h] = struct{}{}
	}
	for _, h := range hosts {
		cp.add(h)
	}
	return cp
}

// Apex returns the normalised apex domain.
func (p HostPolicy) Apex() string {
	return p.apex
}

// Allows reports whether host matches any rule of the policy.
func (p HostPolicy) Allows(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	if p.SharesCookieDomain(host) {
		return true
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.wildcards {
		if strings.HasSuffix(host, suffix) && host != suffix[1:] {
			return true
		}
	}
	return p.allowLocalDev && IsLocalDevHost(host)
}

// SharesCookieDomain reports whether host is the apex or one of its
// subdomains, i.e. whether it can read cookies scoped to the parent domain.
func (p HostPolicy) SharesCookieDomain(host string) bool {
	if p.apex == "" {
		return false
	}
	host = normalizeHost(host)
	return host == p.apex || strings.HasSuffix(host, "."+p.apex)
}

// IsLocalDevHost reports whether host is a recognised local development host.
func IsLocalDevHost(host string) bool {
	host = normalizeHost(host)
	switch {
	case host == "localhost", host == "127.0.0.1":
		return true
	case strings.HasSuffix(host, ".localhost"), strings.HasSuffix(host, ".local"):
		return true
	}
	return false
}

// normalizeHost lowercases, strips any port and trailing dot.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
