package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

func TestParseUpstream(t *testing.T) {
	cases := []struct {
		in   string
		want Upstream
	}{
		{"8.8.8.8", Upstream{Host: "8.8.8.8", Port: 53}},
		{"8.8.8.8:5353", Upstream{Host: "8.8.8.8", Port: 5353}},
		{"2001:db8::1", Upstream{Host: "2001:db8::1", Port: 53}},
		{"[2001:db8::1]", Upstream{Host: "2001:db8::1", Port: 53}},
		{"[2001:db8::1]:853", Upstream{Host: "2001:db8::1", Port: 853}},
		{"dns.example.net", Upstream{Host: "dns.example.net", Port: 53}},
		{"dns.example.net:5300", Upstream{Host: "dns.example.net", Port: 5300}},
	}
	for _, tc := range cases {
		got, err := ParseUpstream(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseUpstreamRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "1.2.3.4:0", "1.2.3.4:70000", ":53", "host:port"} {
		_, err := ParseUpstream(in)
		assert.Error(t, err, in)
	}
}

func TestUpstreamString(t *testing.T) {
	assert.Equal(t, "[2001:db8::1]:53", Upstream{Host: "2001:db8::1", Port: 53}.String())
	assert.Equal(t, "10.0.0.1:53,10.0.0.2:5353",
		JoinUpstreams([]Upstream{{Host: "10.0.0.1", Port: 53}, {Host: "10.0.0.2", Port: 5353}}))
}

func TestKeysIgnoreCase(t *testing.T) {
	q1 := dnsmessage.Question{Name: dnsmessage.MustNewName("Example.COM."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}
	q2 := dnsmessage.Question{Name: dnsmessage.MustNewName("example.com."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}
	assert.Equal(t, Key(q1), Key(q2))
	assert.Equal(t, "example.com.", NameKey(q1))

	q2.Type = dnsmessage.TypeMX
	assert.NotEqual(t, Key(q1), Key(q2))
	assert.Equal(t, NameKey(q1), NameKey(q2))
}

func TestSupported(t *testing.T) {
	for _, typ := range []dnsmessage.Type{dnsmessage.TypeA, dnsmessage.TypeAAAA, dnsmessage.TypeMX,
		dnsmessage.TypeCNAME, dnsmessage.TypeTXT, dnsmessage.TypePTR, dnsmessage.TypeNS,
		dnsmessage.TypeSOA, dnsmessage.TypeSRV} {
		assert.True(t, Supported(typ), typ.String())
	}
	assert.False(t, Supported(dnsmessage.TypeHINFO))
	assert.False(t, Supported(dnsmessage.TypeOPT))
	assert.False(t, Supported(dnsmessage.TypeALL))
}

func TestStampTTL(t *testing.T) {
	in := []dnsmessage.Resource{
		{Header: dnsmessage.ResourceHeader{TTL: 300}},
		{Header: dnsmessage.ResourceHeader{TTL: 60}},
	}
	out := StampTTL(in, 42)
	require.Len(t, out, 2)
	assert.EqualValues(t, 42, out[0].Header.TTL)
	assert.EqualValues(t, 42, out[1].Header.TTL)
	assert.EqualValues(t, 300, in[0].Header.TTL, "input must not be modified")
	assert.Nil(t, StampTTL(nil, 1))
}
