package config

import (
	"fmt"
	"net/netip"
	"strings"

	"hotdns/resolver"
	"hotdns/resolver/entities"
)

// LocalHosts merges the inline hosts with the zone file, if any.
func (c *Config) LocalHosts() (map[string][]netip.Addr, error) {
	hosts := make(map[string][]netip.Addr)
	if c.Local.File != "" {
		zone, err := ReadLocalZone(c.Local.File)
		if err != nil {
			return nil, err
		}
		for name, addrs := range zone {
			hosts[name] = append(hosts[name], addrs...)
		}
	}
	for _, h := range c.Local.Hosts {
		name := strings.ToLower(entities.Fqdn(h.Name))
		for _, a := range h.Addresses {
			addr, err := netip.ParseAddr(a)
			if err != nil {
				return nil, fmt.Errorf("%w: local host %s: %w", ErrConfig, h.Name, err)
			}
			hosts[name] = append(hosts[name], addr)
		}
	}
	return hosts, nil
}

// Router builds the zone router from the upstream and local sections.
func (c *Config) Router() (*resolver.Router, error) {
	def, err := entities.ParseUpstreams(c.Upstream.Default)
	if err != nil {
		return nil, fmt.Errorf("%w: upstream.default: %w", ErrConfig, err)
	}

	rules := make([]resolver.ZoneRule, 0, len(c.Upstream.Zones))
	for _, z := range c.Upstream.Zones {
		servers, err := entities.ParseUpstreams(z.Servers)
		if err != nil {
			return nil, fmt.Errorf("%w: zone %s: %w", ErrConfig, z.Name, err)
		}
		rules = append(rules, resolver.ZoneRule{Name: z.Name, Domains: z.Domains, Servers: servers})
	}

	local, err := c.LocalHosts()
	if err != nil {
		return nil, err
	}
	return resolver.NewRouter(rules, def, local), nil
}

func (c *Config) EngineOptions() resolver.Options {
	return resolver.Options{
		HotWindow:     c.Resolver.HotWindow,
		SweepInterval: c.Resolver.SweepInterval,
		RenewPerType:  c.Resolver.RenewPerType,
		Verbose:       c.Service.Verbose,
		Debug:         c.Service.Debug,
	}
}
