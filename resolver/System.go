package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"hotdns/resolver/entities"

	"github.com/miekg/dns"
	"golang.org/x/net/dns/dnsmessage"
)

var ErrSystemUnsupported = errors.New("system resolver cannot answer this type")

// DefaultSystemTTL is stamped on records from the native fallback, which
// come without TTLs.
const DefaultSystemTTL = 300

const (
	DefaultResolvConf = "/etc/resolv.conf"
	stubEdnsSize      = 1232
)

// NativeResolver is the subset of *net.Resolver used when no nameservers
// could be read from resolv.conf.
type NativeResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// System resolves through the nameservers the operating system is
// configured with. Those are asked directly, so answers keep their real
// TTLs and authority records. Without a usable resolv.conf it falls back to
// the native resolver and stamps TTL on what it returns.
type System struct {
	Config   *dns.ClientConfig
	Resolver NativeResolver
	TTL      uint32
	Debug    bool
}

func NewSystem(ttl uint32) *System {
	if ttl == 0 {
		ttl = DefaultSystemTTL
	}
	s := &System{Resolver: net.DefaultResolver, TTL: ttl}
	if err := s.LoadResolvConf(DefaultResolvConf); err != nil {
		log.Printf("NewSystem: %v, falling back to the native resolver", err)
	}
	return s
}

// LoadResolvConf takes the nameservers, port and timeout from file.
func (s *System) LoadResolvConf(file string) error {
	cc, err := dns.ClientConfigFromFile(file)
	if err != nil {
		return fmt.Errorf("failed to load DNS client configuration: %w", err)
	}
	if len(cc.Servers) == 0 {
		return fmt.Errorf("no nameservers in %s", file)
	}
	s.Config = cc
	return nil
}

// Lookup answers q.
func (s *System) Lookup(ctx context.Context, q dnsmessage.Question) (entities.Result, error) {
	if s.Config != nil && len(s.Config.Servers) > 0 {
		return s.stub(ctx, q)
	}
	return s.native(ctx, q)
}

// stub asks each configured nameserver in turn until one gives a NOERROR
// or NXDOMAIN reply. Truncated UDP replies are retried over TCP.
func (s *System) stub(ctx context.Context, q dnsmessage.Question) (entities.Result, error) {
	m := new(dns.Msg)
	m.SetQuestion(q.Name.String(), uint16(q.Type))
	m.SetEdns0(stubEdnsSize, false)

	timeout := time.Duration(s.Config.Timeout) * time.Second
	port := s.Config.Port
	if port == "" {
		port = "53"
	}

	var lastErr error
	for _, server := range s.Config.Servers {
		addr := net.JoinHostPort(server, port)
		c := &dns.Client{Net: "udp", Timeout: timeout}
		r, _, err := c.ExchangeContext(ctx, m, addr)
		if err == nil && r.Truncated {
			c.Net = "tcp"
			r, _, err = c.ExchangeContext(ctx, m, addr)
		}
		if err != nil {
			lastErr = err
			if s.Debug {
				log.Printf("System: %s %s via %s: %v", q.Name, q.Type, addr, err)
			}
			continue
		}
		switch r.Rcode {
		case dns.RcodeSuccess, dns.RcodeNameError:
			return FromMsg(r)
		}
		lastErr = fmt.Errorf("%s answered %s", addr, dns.RcodeToString[r.Rcode])
	}
	return entities.Result{}, lastErr
}

// FromMsg converts the answer and authority sections of a reply into
// dnsmessage records. This is the only place system answers change
// representation, so every type the wire format knows comes through intact.
func FromMsg(r *dns.Msg) (entities.Result, error) {
	out := dns.Msg{
		MsgHdr: dns.MsgHdr{Response: true, Rcode: r.Rcode},
		Answer: r.Answer,
		Ns:     r.Ns,
	}
	buf, err := out.Pack()
	if err != nil {
		return entities.Result{}, fmt.Errorf("packing system reply: %w", err)
	}
	var msg dnsmessage.Message
	if err := msg.Unpack(buf); err != nil {
		return entities.Result{}, fmt.Errorf("parsing system reply: %w", err)
	}
	return entities.Result{
		Answer:    msg.Answers,
		Authority: msg.Authorities,
		RCode:     msg.Header.RCode,
	}, nil
}

// native answers q through the OS resolver library. Every record is placed
// in the answer section, and SOA cannot be asked this way.
func (s *System) native(ctx context.Context, q dnsmessage.Question) (entities.Result, error) {
	host := strings.TrimSuffix(q.Name.String(), ".")
	hdr := dnsmessage.ResourceHeader{Name: q.Name, Type: q.Type, Class: dnsmessage.ClassINET, TTL: s.TTL}

	var answer []dnsmessage.Resource
	switch q.Type {
	case dnsmessage.TypeA, dnsmessage.TypeAAAA:
		network := "ip4"
		if q.Type == dnsmessage.TypeAAAA {
			network = "ip6"
		}
		addrs, err := s.Resolver.LookupNetIP(ctx, network, host)
		if err != nil {
			return entities.Result{}, err
		}
		answer = addrRecords(hdr, addrs)

	case dnsmessage.TypeCNAME:
		target, err := s.Resolver.LookupCNAME(ctx, host)
		if err != nil {
			return entities.Result{}, err
		}
		if rec, ok := cnameRecord(hdr, host, target); ok {
			answer = append(answer, rec)
		}

	case dnsmessage.TypeMX:
		mxs, err := s.Resolver.LookupMX(ctx, host)
		if err != nil {
			return entities.Result{}, err
		}
		for _, mx := range mxs {
			rec, err := mxRecord(hdr, mx)
			if err != nil {
				return entities.Result{}, err
			}
			answer = append(answer, rec)
		}

	case dnsmessage.TypeNS:
		nss, err := s.Resolver.LookupNS(ctx, host)
		if err != nil {
			return entities.Result{}, err
		}
		for _, ns := range nss {
			name, err := dnsmessage.NewName(entities.Fqdn(ns.Host))
			if err != nil {
				return entities.Result{}, err
			}
			answer = append(answer, dnsmessage.Resource{Header: hdr, Body: &dnsmessage.NSResource{NS: name}})
		}

	case dnsmessage.TypeTXT:
		txts, err := s.Resolver.LookupTXT(ctx, host)
		if err != nil {
			return entities.Result{}, err
		}
		for _, txt := range txts {
			answer = append(answer, txtRecord(hdr, txt))
		}

	case dnsmessage.TypeSRV:
		_, srvs, err := s.Resolver.LookupSRV(ctx, "", "", host)
		if err != nil {
			return entities.Result{}, err
		}
		for _, srv := range srvs {
			rec, err := srvRecord(hdr, srv)
			if err != nil {
				return entities.Result{}, err
			}
			answer = append(answer, rec)
		}

	case dnsmessage.TypePTR:
		addr, err := ReverseAddr(q.Name.String())
		if err != nil {
			return entities.Result{}, err
		}
		names, err := s.Resolver.LookupAddr(ctx, addr.String())
		if err != nil {
			return entities.Result{}, err
		}
		for _, n := range names {
			name, err := dnsmessage.NewName(entities.Fqdn(n))
			if err != nil {
				return entities.Result{}, err
			}
			answer = append(answer, dnsmessage.Resource{Header: hdr, Body: &dnsmessage.PTRResource{PTR: name}})
		}

	default:
		return entities.Result{}, fmt.Errorf("%w: %s", ErrSystemUnsupported, q.Type)
	}

	return entities.Result{Answer: answer, RCode: dnsmessage.RCodeSuccess}, nil
}

func addrRecords(hdr dnsmessage.ResourceHeader, addrs []netip.Addr) []dnsmessage.Resource {
	var out []dnsmessage.Resource
	for _, a := range addrs {
		a = a.Unmap()
		switch {
		case hdr.Type == dnsmessage.TypeA && a.Is4():
			out = append(out, dnsmessage.Resource{Header: hdr, Body: &dnsmessage.AResource{A: a.As4()}})
		case hdr.Type == dnsmessage.TypeAAAA && a.Is6():
			out = append(out, dnsmessage.Resource{Header: hdr, Body: &dnsmessage.AAAAResource{AAAA: a.As16()}})
		}
	}
	return out
}

// The OS resolver returns the queried name itself when there is no alias.
func cnameRecord(hdr dnsmessage.ResourceHeader, host, target string) (dnsmessage.Resource, bool) {
	if target == "" || strings.EqualFold(entities.Fqdn(target), entities.Fqdn(host)) {
		return dnsmessage.Resource{}, false
	}
	name, err := dnsmessage.NewName(entities.Fqdn(target))
	if err != nil {
		return dnsmessage.Resource{}, false
	}
	return dnsmessage.Resource{Header: hdr, Body: &dnsmessage.CNAMEResource{CNAME: name}}, true
}

func mxRecord(hdr dnsmessage.ResourceHeader, mx *net.MX) (dnsmessage.Resource, error) {
	name, err := dnsmessage.NewName(entities.Fqdn(mx.Host))
	if err != nil {
		return dnsmessage.Resource{}, err
	}
	return dnsmessage.Resource{Header: hdr, Body: &dnsmessage.MXResource{Pref: mx.Pref, MX: name}}, nil
}

func srvRecord(hdr dnsmessage.ResourceHeader, srv *net.SRV) (dnsmessage.Resource, error) {
	target, err := dnsmessage.NewName(entities.Fqdn(srv.Target))
	if err != nil {
		return dnsmessage.Resource{}, err
	}
	return dnsmessage.Resource{Header: hdr, Body: &dnsmessage.SRVResource{
		Priority: srv.Priority,
		Weight:   srv.Weight,
		Port:     srv.Port,
		Target:   target,
	}}, nil
}

// TXT strings are limited to 255 bytes on the wire.
func txtRecord(hdr dnsmessage.ResourceHeader, txt string) dnsmessage.Resource {
	var parts []string
	for len(txt) > 255 {
		parts = append(parts, txt[:255])
		txt = txt[255:]
	}
	parts = append(parts, txt)
	return dnsmessage.Resource{Header: hdr, Body: &dnsmessage.TXTResource{TXT: parts}}
}

// ReverseAddr turns an in-addr.arpa or ip6.arpa name back into an address.
func ReverseAddr(name string) (netip.Addr, error) {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if rest, ok := strings.CutSuffix(name, ".in-addr.arpa"); ok {
		labels := strings.Split(rest, ".")
		if len(labels) != 4 {
			return netip.Addr{}, fmt.Errorf("not a full IPv4 reverse name: %q", name)
		}
		var b [4]byte
		for i, l := range labels {
			v, err := strconv.ParseUint(l, 10, 8)
			if err != nil {
				return netip.Addr{}, fmt.Errorf("bad label %q in %q", l, name)
			}
			b[3-i] = byte(v)
		}
		return netip.AddrFrom4(b), nil
	}
	if rest, ok := strings.CutSuffix(name, ".ip6.arpa"); ok {
		nibbles := strings.Split(rest, ".")
		if len(nibbles) != 32 {
			return netip.Addr{}, fmt.Errorf("not a full IPv6 reverse name: %q", name)
		}
		var b [16]byte
		for i, n := range nibbles {
			v, err := strconv.ParseUint(n, 16, 4)
			if err != nil || len(n) != 1 {
				return netip.Addr{}, fmt.Errorf("bad nibble %q in %q", n, name)
			}
			pos := 31 - i
			if pos%2 == 0 {
				b[pos/2] |= byte(v) << 4
			} else {
				b[pos/2] |= byte(v)
			}
		}
		return netip.AddrFrom16(b), nil
	}
	return netip.Addr{}, fmt.Errorf("not a reverse lookup name: %q", name)
}
