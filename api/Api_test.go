package api

import (
	"context"
	"net/http/httptest"
	"net/netip"
	"testing"

	"hotdns/resolver"
	"hotdns/resolver/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

type fixedSystem struct{}

func (fixedSystem) Lookup(_ context.Context, q dnsmessage.Question) (entities.Result, error) {
	return entities.Result{Answer: []dnsmessage.Resource{{
		Header: dnsmessage.ResourceHeader{Name: q.Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: 300},
		Body:   &dnsmessage.AResource{A: [4]byte{192, 0, 2, 1}},
	}}}, nil
}

func setup(t *testing.T) (*resolver.Engine, *ApiClient) {
	t.Helper()
	router := resolver.NewRouter(
		[]resolver.ZoneRule{{Name: "corp", Domains: []string{"corp.internal"}}},
		[]entities.Upstream{{Host: "8.8.8.8", Port: 53}},
		map[string][]netip.Addr{"printer.lan": {netip.MustParseAddr("192.168.1.5")}},
	)
	engine := resolver.NewEngine(router, nil, fixedSystem{}, resolver.Options{})
	t.Cleanup(engine.Close)

	mr, err := SetupAPIRouter("hotdns", "sekrit", engine)
	require.NoError(t, err)
	srv := httptest.NewServer(mr)
	t.Cleanup(srv.Close)

	return engine, NewClient("test", srv.URL+"/api/v1", "sekrit", false, false)
}

func warm(t *testing.T, engine *resolver.Engine, names ...string) {
	t.Helper()
	for _, name := range names {
		q := dnsmessage.Question{Name: dnsmessage.MustNewName(name), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}
		require.NoError(t, engine.Serve(context.Background(), q, resolver.ReplyFunc(func(entities.Result) error { return nil })))
	}
}

func TestSetupRequiresKey(t *testing.T) {
	_, err := SetupAPIRouter("hotdns", "", nil)
	assert.ErrorIs(t, err, ErrNoApiKey)
}

func TestPing(t *testing.T) {
	_, client := setup(t)
	pr, err := client.SendPing(4)
	require.NoError(t, err)
	assert.Equal(t, 5, pr.Pings)
	assert.Equal(t, "hotdns", pr.Daemon)
	assert.Positive(t, pr.Pongs)
}

func TestWrongKeyIsRejected(t *testing.T) {
	_, client := setup(t)
	bad := NewClient("test", client.BaseUrl, "wrong", false, false)
	status, _, err := bad.Post("/ping", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 404, status)

	_, err = bad.SendPing(1)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	engine, client := setup(t)
	warm(t, engine, "a.corp.internal.")

	sr, err := client.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, sr.Stats.Queries)
	assert.EqualValues(t, 1, sr.Stats.System)
	assert.Equal(t, 1, sr.Stats.CacheSize)
	assert.Equal(t, []string{"8.8.8.8:53"}, sr.Defaults)
	assert.Equal(t, []string{"corp: corp.internal -> system"}, sr.Zones)
	assert.Equal(t, 1, sr.Local)
}

func TestCacheCommands(t *testing.T) {
	engine, client := setup(t)
	warm(t, engine, "b.corp.internal.", "a.corp.internal.", "x.lab.corp.internal.")

	cr, err := client.Cache(CachePost{Command: CacheList})
	require.NoError(t, err)
	require.Len(t, cr.Entries, 3)
	assert.Equal(t, "a.corp.internal.", cr.Entries[0].Name)
	assert.Equal(t, "A", cr.Entries[0].Type)
	assert.Equal(t, "RCodeSuccess", cr.Entries[0].RCode)

	cr, err = client.Cache(CachePost{Command: CacheList, Suffix: "lab.corp.internal"})
	require.NoError(t, err)
	require.Len(t, cr.Entries, 1)
	assert.Equal(t, "x.lab.corp.internal.", cr.Entries[0].Name)

	cr, err = client.Cache(CachePost{Command: CacheLookup, Name: "A.corp.internal", Type: "a"})
	require.NoError(t, err)
	require.Len(t, cr.Records, 1)
	assert.Contains(t, cr.Records[0], "a.corp.internal.")
	assert.Contains(t, cr.Records[0], "192.0.2.1")

	_, err = client.Cache(CachePost{Command: CacheLookup, Name: "missing.example", Type: "A"})
	assert.ErrorContains(t, err, "is not cached")

	_, err = client.Cache(CachePost{Command: CacheLookup, Name: "a.corp.internal", Type: "BOGUS"})
	assert.ErrorContains(t, err, "unknown record type")

	cr, err = client.Cache(CachePost{Command: CacheFlush})
	require.NoError(t, err)
	assert.Equal(t, 3, cr.Flushed)
	assert.Equal(t, 0, engine.Cache().Len())

	_, err = client.Cache(CachePost{Command: "explode"})
	assert.Error(t, err)
}

func TestPresentRecords(t *testing.T) {
	records := []dnsmessage.Resource{{
		Header: dnsmessage.ResourceHeader{Name: dnsmessage.MustNewName("example.com."), Type: dnsmessage.TypeMX, Class: dnsmessage.ClassINET, TTL: 60},
		Body:   &dnsmessage.MXResource{Pref: 10, MX: dnsmessage.MustNewName("mail.example.com.")},
	}}
	out, err := PresentRecords(records)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com.\t60\tIN\tMX\t10 mail.example.com."}, out)

	out, err = PresentRecords(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
