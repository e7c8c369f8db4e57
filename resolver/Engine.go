package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"time"

	"hotdns/popularity"
	"hotdns/recordcache"
	"hotdns/renewal"
	"hotdns/resolver/entities"

	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnsupportedType     = errors.New("unsupported query type")
	ErrAllCandidatesFailed = errors.New("no upstream produced an answer")
)

const (
	OverrideTTL          = 3600
	DefaultHotWindow     = 10 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
)

// Exchanger sends one question to one upstream. *query.Client implements it.
type Exchanger interface {
	Exchange(ctx context.Context, server entities.Upstream, q dnsmessage.Question) (entities.Result, error)
}

// Lookuper resolves through the operating system. *System implements it.
type Lookuper interface {
	Lookup(ctx context.Context, q dnsmessage.Question) (entities.Result, error)
}

// ResponseWriter delivers the reply for one question back to the client.
type ResponseWriter interface {
	WriteReply(res entities.Result) error
}

// ReplyFunc adapts a function to ResponseWriter.
type ReplyFunc func(res entities.Result) error

func (f ReplyFunc) WriteReply(res entities.Result) error { return f(res) }

type Options struct {
	HotWindow     time.Duration
	SweepInterval time.Duration
	// RenewPerType tracks hotness and pending renewals per name and type
	// instead of per name.
	RenewPerType bool
	Verbose      bool
	Debug        bool

	Clock  func() time.Time
	Timers func(time.Duration, func()) renewal.Timer
}

// Engine answers questions from the cache, local overrides or upstream
// resolvers, and keeps popular cache entries warm.
type Engine struct {
	router   *Router
	upstream Exchanger
	system   Lookuper
	cache    *recordcache.Cache
	tracker  *popularity.Tracker
	renewer  *renewal.Scheduler
	group    singleflight.Group
	key      func(dnsmessage.Question) string
	opts     Options
	stats    counters
}

func NewEngine(router *Router, upstream Exchanger, system Lookuper, opts Options) *Engine {
	if opts.HotWindow <= 0 {
		opts.HotWindow = DefaultHotWindow
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := &Engine{
		router:   router,
		upstream: upstream,
		system:   system,
		key:      entities.NameKey,
		opts:     opts,
	}
	if opts.RenewPerType {
		e.key = entities.Key
	}

	e.cache = recordcache.NewCache(recordcache.WithClock(opts.Clock))
	e.tracker = popularity.NewTracker(popularity.WithClock(opts.Clock))
	ropts := []renewal.Option{renewal.WithClock(opts.Clock), renewal.WithKey(e.key)}
	if opts.Timers != nil {
		ropts = append(ropts, renewal.WithTimers(opts.Timers))
	}
	e.renewer = renewal.New(e.tracker, opts.HotWindow, e.exchange, e.cache.Save, ropts...)
	e.renewer.Debug = opts.Debug
	e.cache.OnSave(e.renewer.Consider)
	return e
}

func (e *Engine) Cache() *recordcache.Cache { return e.cache }
func (e *Engine) Tracker() *popularity.Tracker { return e.tracker }
func (e *Engine) Renewals() *renewal.Scheduler { return e.renewer }
func (e *Engine) Router() *Router { return e.router }

// Serve answers q through w. The reply is written before the result is
// cached, so persisting never delays the client.
func (e *Engine) Serve(ctx context.Context, q dnsmessage.Question, w ResponseWriter) error {
	e.stats.queries.Add(1)

	if !entities.Supported(q.Type) {
		e.stats.unsupported.Add(1)
		if e.opts.Debug {
			log.Printf("Serve: %v: %s %s", ErrUnsupportedType, q.Name, q.Type)
		}
		return w.WriteReply(entities.Result{RCode: dnsmessage.RCodeNotImplemented})
	}

	e.tracker.Touch(e.key(q))

	if res, ttl, ok := e.cache.Lookup(q); ok {
		e.stats.hits.Add(1)
		res.Answer = entities.StampTTL(res.Answer, ttl)
		res.Authority = entities.StampTTL(res.Authority, ttl)
		if e.opts.Debug {
			log.Printf("Serve: cache hit for %s %s, ttl %d", q.Name, q.Type, ttl)
		}
		return w.WriteReply(res)
	}

	route := e.router.Route(q.Name.String())
	if len(route.Local) > 0 {
		e.stats.overrides.Add(1)
		return w.WriteReply(e.override(q, route.Local))
	}

	res, err := e.resolve(ctx, q, route.Servers)
	if err != nil {
		e.stats.failures.Add(1)
		if e.opts.Verbose || e.opts.Debug {
			log.Printf("Serve: %s %s: %v", q.Name, q.Type, err)
		}
		return w.WriteReply(entities.Result{RCode: dnsmessage.RCodeServerFailure})
	}

	werr := w.WriteReply(res)
	e.cache.Save(q, res)
	return werr
}

// override synthesizes the answer for a locally configured name. IPv6
// addresses come out as AAAA records.
func (e *Engine) override(q dnsmessage.Question, addrs []netip.Addr) entities.Result {
	answer := make([]dnsmessage.Resource, 0, len(addrs))
	for _, a := range addrs {
		hdr := dnsmessage.ResourceHeader{Name: q.Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: OverrideTTL}
		a = a.Unmap()
		if a.Is4() {
			answer = append(answer, dnsmessage.Resource{Header: hdr, Body: &dnsmessage.AResource{A: a.As4()}})
			continue
		}
		hdr.Type = dnsmessage.TypeAAAA
		answer = append(answer, dnsmessage.Resource{Header: hdr, Body: &dnsmessage.AAAAResource{AAAA: a.As16()}})
	}
	return entities.Result{Answer: answer, RCode: dnsmessage.RCodeSuccess}
}

// resolve coalesces identical concurrent misses into one upstream exchange.
func (e *Engine) resolve(ctx context.Context, q dnsmessage.Question, servers []entities.Upstream) (entities.Result, error) {
	key := entities.Key(q) + "@" + entities.JoinUpstreams(servers)
	v, err, shared := e.group.Do(key, func() (interface{}, error) {
		return e.exchange(ctx, q, servers)
	})
	if shared {
		e.stats.coalesced.Add(1)
	}
	if err != nil {
		return entities.Result{}, err
	}
	return v.(entities.Result), nil
}

// exchange is the path shared by client misses and renewals: race the
// servers, or ask the system resolver when there are none.
func (e *Engine) exchange(ctx context.Context, q dnsmessage.Question, servers []entities.Upstream) (entities.Result, error) {
	if len(servers) == 0 {
		e.stats.system.Add(1)
		res, err := e.system.Lookup(ctx, q)
		if err != nil {
			return entities.Result{}, fmt.Errorf("%w: system resolver: %w", ErrAllCandidatesFailed, err)
		}
		res.Servers = nil
		return res, nil
	}

	e.stats.forwarded.Add(1)
	res, err := Race(ctx, len(servers), func(ctx context.Context, i int) (entities.Result, error) {
		return e.upstream.Exchange(ctx, servers[i], q)
	})
	if err != nil {
		return entities.Result{}, fmt.Errorf("%w: %w", ErrAllCandidatesFailed, err)
	}
	res.Servers = servers
	return res, nil
}

// Run sweeps cold names out of the popularity tracker until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := e.Sweep()
			if e.opts.Debug && n > 0 {
				log.Printf("Run: swept %d cold names", n)
			}
		}
	}
}

// Sweep forgets names that fell out of the hot window. Such names already
// fail the recency check, so no renewal decision changes.
func (e *Engine) Sweep() int {
	return e.tracker.Sweep(e.opts.Clock().Add(-e.opts.HotWindow))
}

// Close stops all pending renewals.
func (e *Engine) Close() {
	e.renewer.Close()
}
