package entities

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

const DefaultPort = 53

// Upstream is one resolver a query can be forwarded to.
type Upstream struct {
	Host string
	Port uint16
}

func (u Upstream) String() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port)))
}

// ParseUpstream accepts "1.2.3.4", "1.2.3.4:5353", "2001:db8::1",
// "[2001:db8::1]:5353" and "dns.example.net[:port]". Missing ports default to 53.
func ParseUpstream(s string) (Upstream, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Upstream{}, errors.New("empty upstream address")
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		if ap.Port() == 0 {
			return Upstream{}, fmt.Errorf("invalid port in upstream %q", s)
		}
		return Upstream{Host: ap.Addr().Unmap().String(), Port: ap.Port()}, nil
	}
	if addr, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return Upstream{Host: addr.Unmap().String(), Port: DefaultPort}, nil
	}
	if strings.Count(s, ":") == 0 {
		return Upstream{Host: s, Port: DefaultPort}, nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Upstream{}, fmt.Errorf("invalid upstream %q: %w", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return Upstream{}, fmt.Errorf("invalid port in upstream %q", s)
	}
	if host == "" {
		return Upstream{}, fmt.Errorf("missing host in upstream %q", s)
	}
	return Upstream{Host: host, Port: uint16(p)}, nil
}

// ParseUpstreams parses every entry of list, failing on the first bad one.
func ParseUpstreams(list []string) ([]Upstream, error) {
	out := make([]Upstream, 0, len(list))
	for _, s := range list {
		u, err := ParseUpstream(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// JoinUpstreams renders a server set as a single string, used as a map key.
func JoinUpstreams(servers []Upstream) string {
	parts := make([]string, len(servers))
	for i, s := range servers {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
