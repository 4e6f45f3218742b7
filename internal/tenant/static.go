package tenant

import "context"

// StaticResolver answers from a fixed host -> slug table.
type StaticResolver struct {
	domains map[string]string
}

// NewStaticResolver creates a resolver over domains.
func NewStaticResolver(domains map[string]string) *StaticResolver {
	m := make(map[string]string, len(domains))
	for host, slug := range domains {
		if h := NormalizeHost(host); h != "" && slug != "" {
			m[h] = slug
		}
	}
	return &StaticResolver{domains: m}
}

// Resolve implements Resolver.
func (s *StaticResolver) Resolve(_ context.Context, host string) (Tenant, error) {
	host = NormalizeHost(host)
	slug, ok := s.domains[host]
	if !ok {
		return Tenant{}, ErrNotRegistered
	}
	return Tenant{Slug: slug, Domain: host}, nil
}
