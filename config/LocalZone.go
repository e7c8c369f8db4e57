package config

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"github.com/miekg/dns"
)

// ReadLocalZone loads the A and AAAA records of a zone file as local
// overrides. Other record types are skipped.
func ReadLocalZone(path string) (map[string][]netip.Addr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadLocalZone: %w", err)
	}
	defer f.Close()
	return ParseLocalZone(f, path)
}

func ParseLocalZone(r io.Reader, file string) (map[string][]netip.Addr, error) {
	hosts := make(map[string][]netip.Addr)
	zp := dns.NewZoneParser(r, ".", file)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		var ip []byte
		switch rr := rr.(type) {
		case *dns.A:
			ip = rr.A.To4()
		case *dns.AAAA:
			ip = rr.AAAA.To16()
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		name := strings.ToLower(rr.Header().Name)
		hosts[name] = append(hosts[name], addr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("ParseLocalZone: %s: %w", file, err)
	}
	return hosts, nil
}
