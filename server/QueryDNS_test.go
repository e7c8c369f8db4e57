package server

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"hotdns/resolver"
	"hotdns/resolver/entities"
	"hotdns/resolver/query"

	"golang.org/x/net/dns/dnsmessage"
)

// staticSystem answers from a fixed table keyed by name and type.
type staticSystem map[string]entities.Result

func (s staticSystem) Lookup(_ context.Context, q dnsmessage.Question) (entities.Result, error) {
	res, ok := s[entities.Key(q)]
	if !ok {
		return entities.Result{}, errors.New("no such host")
	}
	return res, nil
}

func rr(name string, typ dnsmessage.Type, ttl uint32, body dnsmessage.ResourceBody) dnsmessage.Resource {
	return dnsmessage.Resource{
		Header: dnsmessage.ResourceHeader{Name: dnsmessage.MustNewName(name), Type: typ, Class: dnsmessage.ClassINET, TTL: ttl},
		Body:   body,
	}
}

func testEngine(t *testing.T) *resolver.Engine {
	t.Helper()
	router := resolver.NewRouter(nil, nil, map[string][]netip.Addr{
		"govekar.net": {netip.MustParseAddr("192.0.2.10"), netip.MustParseAddr("192.0.2.11")},
	})
	system := staticSystem{
		entities.Key(dnsmessage.Question{Name: dnsmessage.MustNewName("google.com."), Type: dnsmessage.TypeAAAA}): {
			Answer: []dnsmessage.Resource{rr("google.com.", dnsmessage.TypeAAAA, 300, &dnsmessage.AAAAResource{AAAA: netip.MustParseAddr("2001:db8::200e").As16()})},
		},
		entities.Key(dnsmessage.Question{Name: dnsmessage.MustNewName("example.org."), Type: dnsmessage.TypeMX}): {
			Answer: []dnsmessage.Resource{rr("example.org.", dnsmessage.TypeMX, 300, &dnsmessage.MXResource{Pref: 10, MX: dnsmessage.MustNewName("mail.example.org.")})},
		},
	}
	engine := resolver.NewEngine(router, nil, system, resolver.Options{})
	t.Cleanup(engine.Close)
	return engine
}

// Setup Test Server
func startTestServer(t *testing.T, handler Handler) *Server {
	t.Helper()
	s, err := NewServer("127.0.0.1:0", true, handler)
	if err != nil {
		t.Fatalf("Failed to start DNS server: %v", err)
	}
	go s.Start()
	t.Cleanup(s.Close)
	return s
}

func newQuery(domain string, qType dnsmessage.Type) dnsmessage.Message {
	var msg dnsmessage.Message
	msg.Header.ID = 1234
	msg.Header.RecursionDesired = true
	msg.Questions = []dnsmessage.Question{
		{
			Name:  dnsmessage.MustNewName(domain),
			Type:  qType,
			Class: dnsmessage.ClassINET,
		},
	}
	return msg
}

func sendDNSQuery(t *testing.T, serverAddr, domain string, qType dnsmessage.Type) dnsmessage.Message {
	t.Helper()
	return exchangeUDP(t, serverAddr, newQuery(domain, qType))
}

func exchangeUDP(t *testing.T, serverAddr string, msg dnsmessage.Message) dnsmessage.Message {
	t.Helper()

	conn, err := net.Dial("udp", serverAddr)
	if err != nil {
		t.Fatalf("Failed to connect to DNS server: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	packed, err := msg.Pack()
	if err != nil {
		t.Fatalf("Failed to pack DNS query: %v", err)
	}
	if _, err = conn.Write(packed); err != nil {
		t.Fatalf("Failed to send DNS query: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Failed to read DNS response: %v", err)
	}

	var response dnsmessage.Message
	if err = response.Unpack(buf[:n]); err != nil {
		t.Fatalf("Failed to unpack DNS response: %v", err)
	}
	return response
}

func exchangeTCP(t *testing.T, serverAddr string, msg dnsmessage.Message) dnsmessage.Message {
	t.Helper()

	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		t.Fatalf("Failed to connect to DNS server over TCP: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	packed, err := msg.Pack()
	if err != nil {
		t.Fatalf("Failed to pack DNS query: %v", err)
	}
	if err = query.WriteFramed(conn, packed); err != nil {
		t.Fatalf("Failed to send DNS query: %v", err)
	}
	buf, err := query.ReadFramed(conn)
	if err != nil {
		t.Fatalf("Failed to read DNS response: %v", err)
	}

	var response dnsmessage.Message
	if err = response.Unpack(buf); err != nil {
		t.Fatalf("Failed to unpack DNS response: %v", err)
	}
	return response
}
