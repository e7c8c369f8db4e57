package entities

import (
	"fmt"
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

// Result is a resolution outcome: the answer and authority sections of a
// response plus the upstream set that produced it. Servers is empty when the
// system resolver answered.
type Result struct {
	Answer    []dnsmessage.Resource
	Authority []dnsmessage.Resource
	RCode     dnsmessage.RCode
	Servers   []Upstream
}

var supported = map[dnsmessage.Type]bool{
	dnsmessage.TypeA:     true,
	dnsmessage.TypeMX:    true,
	dnsmessage.TypeCNAME: true,
	dnsmessage.TypeTXT:   true,
	dnsmessage.TypePTR:   true,
	dnsmessage.TypeAAAA:  true,
	dnsmessage.TypeNS:    true,
	dnsmessage.TypeSOA:   true,
	dnsmessage.TypeSRV:   true,
}

// Supported reports whether queries of type t are answered at all.
func Supported(t dnsmessage.Type) bool {
	return supported[t]
}

// CanonicalName lowercases n so lookups ignore case.
func CanonicalName(n dnsmessage.Name) string {
	return strings.ToLower(n.String())
}

// Key identifies a question in the cache.
func Key(q dnsmessage.Question) string {
	return fmt.Sprintf("%s:%d", CanonicalName(q.Name), q.Type)
}

// NameKey identifies a question by name only, ignoring its type.
func NameKey(q dnsmessage.Question) string {
	return CanonicalName(q.Name)
}

// StampTTL returns a copy of records with every TTL set to ttl.
func StampTTL(records []dnsmessage.Resource, ttl uint32) []dnsmessage.Resource {
	if records == nil {
		return nil
	}
	out := make([]dnsmessage.Resource, len(records))
	for i, r := range records {
		r.Header.TTL = ttl
		out[i] = r
	}
	return out
}

// Fqdn appends the root label if name lacks it.
func Fqdn(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
