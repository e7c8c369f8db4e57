package resolver

import (
	"sync/atomic"

	"hotdns/renewal"
)

type counters struct {
	queries     atomic.Uint64
	unsupported atomic.Uint64
	hits        atomic.Uint64
	overrides   atomic.Uint64
	forwarded   atomic.Uint64
	system      atomic.Uint64
	coalesced   atomic.Uint64
	failures    atomic.Uint64
}

// Stats is a point in time view of engine activity.
type Stats struct {
	Queries     uint64
	Unsupported uint64
	CacheHits   uint64
	Overrides   uint64
	Forwarded   uint64
	System      uint64
	Coalesced   uint64
	Failures    uint64
	CacheSize   int
	HotNames    int
	Renewals    renewal.Stats
}

func (e *Engine) Stats() Stats {
	return Stats{
		Queries:     e.stats.queries.Load(),
		Unsupported: e.stats.unsupported.Load(),
		CacheHits:   e.stats.hits.Load(),
		Overrides:   e.stats.overrides.Load(),
		Forwarded:   e.stats.forwarded.Load(),
		System:      e.stats.system.Load(),
		Coalesced:   e.stats.coalesced.Load(),
		Failures:    e.stats.failures.Load(),
		CacheSize:   e.cache.Len(),
		HotNames:    e.tracker.Len(),
		Renewals:    e.renewer.Stats(),
	}
}
