package api

import (
	"time"

	"hotdns/resolver"
)

type PingPost struct {
	Pings int
}

type PingResponse struct {
	Time       time.Time
	BootTime   time.Time
	Daemon     string
	ServerHost string
	Client     string
	Msg        string
	Pings      int
	Pongs      int
}

type StatsResponse struct {
	Time     time.Time
	Stats    resolver.Stats
	Zones    []string
	Defaults []string
	Local    int
}

const (
	CacheList   = "list"
	CacheLookup = "lookup"
	CacheFlush  = "flush"
)

type CachePost struct {
	Command string // list | lookup | flush
	Suffix  string // list: only names ending in suffix
	Name    string // lookup
	Type    string // lookup, e.g. "A" or "MX"
}

type CacheEntry struct {
	Name      string
	Type      string
	TTL       uint32
	RCode     string
	Answers   int
	Authority int
	Servers   []string
}

type CacheResponse struct {
	Time     time.Time
	Entries  []CacheEntry
	Records  []string
	Flushed  int
	Error    bool
	ErrorMsg string
}
