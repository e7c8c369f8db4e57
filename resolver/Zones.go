package resolver

import (
	"net/netip"
	"strings"

	"hotdns/resolver/entities"
)

// ZoneRule forwards names under any of Domains to Servers.
// "corp.example" matches the name itself and everything below it,
// "*.corp.example" matches only names below it.
type ZoneRule struct {
	Name    string
	Domains []string
	Servers []entities.Upstream
}

// Match reports whether name (any case, with or without the root label)
// falls under one of the rule's domains.
func (z ZoneRule) Match(name string) bool {
	name = strings.ToLower(entities.Fqdn(name))
	for _, d := range z.Domains {
		d = strings.ToLower(entities.Fqdn(d))
		if sub, ok := strings.CutPrefix(d, "*."); ok {
			if strings.HasSuffix(name, "."+sub) {
				return true
			}
			continue
		}
		if d == "." || name == d || strings.HasSuffix(name, "."+d) {
			return true
		}
	}
	return false
}

// Route is where a question should go. Exactly one of Local, Servers or
// System describes the path.
type Route struct {
	Local   []netip.Addr
	Servers []entities.Upstream
	Zone    string
}

// System reports whether the route falls through to the OS resolver.
func (r Route) System() bool {
	return len(r.Local) == 0 && len(r.Servers) == 0
}

// Router picks the upstream set for a name: a local override, else the
// first matching zone rule in order, else the default set. An empty result
// means the system resolver.
type Router struct {
	Rules   []ZoneRule
	Default []entities.Upstream
	local   map[string][]netip.Addr
}

func NewRouter(rules []ZoneRule, def []entities.Upstream, local map[string][]netip.Addr) *Router {
	r := &Router{
		Rules:   rules,
		Default: def,
		local:   make(map[string][]netip.Addr, len(local)),
	}
	for name, addrs := range local {
		key := strings.ToLower(entities.Fqdn(name))
		r.local[key] = append(r.local[key], addrs...)
	}
	return r
}

// Override returns the local addresses configured for exactly name.
func (r *Router) Override(name string) ([]netip.Addr, bool) {
	addrs, ok := r.local[strings.ToLower(entities.Fqdn(name))]
	return addrs, ok && len(addrs) > 0
}

// Overrides returns the number of names with local addresses.
func (r *Router) Overrides() int {
	return len(r.local)
}

func (r *Router) Route(name string) Route {
	if addrs, ok := r.Override(name); ok {
		return Route{Local: addrs}
	}
	for _, rule := range r.Rules {
		if rule.Match(name) {
			return Route{Servers: rule.Servers, Zone: rule.Name}
		}
	}
	return Route{Servers: r.Default}
}
