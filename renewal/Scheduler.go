package renewal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"hotdns/popularity"
	"hotdns/resolver/entities"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/net/dns/dnsmessage"
)

var ErrRenewalFailed = errors.New("renewal failed")

const (
	// entries with a TTL at or below this are left to expire
	MinTTL = 10
	// renewals fire at this fraction of the TTL
	Fraction = 0.8
)

// Exchanger resolves q against servers, or via the system resolver when
// servers is empty.
type Exchanger func(ctx context.Context, q dnsmessage.Question, servers []entities.Upstream) (entities.Result, error)

// Saver persists a renewed result. The cache's Save calls back into
// Consider, which keeps the chain going.
type Saver func(q dnsmessage.Question, res entities.Result) uint32

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

type pending struct {
	mu    sync.Mutex
	timer Timer
}

// Scheduler re-queries cached entries shortly before they expire as long as
// clients keep asking for them.
type Scheduler struct {
	Debug bool

	ctx      context.Context
	cancel   context.CancelFunc
	tracker  *popularity.Tracker
	pending  cmap.ConcurrentMap[string, *pending]
	window   time.Duration
	key      func(dnsmessage.Question) string
	exchange Exchanger
	save     Saver
	now      func() time.Time
	after    func(time.Duration, func()) Timer

	armed   atomic.Uint64
	renewed atomic.Uint64
	failed  atomic.Uint64
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTimers replaces time.AfterFunc.
func WithTimers(after func(time.Duration, func()) Timer) Option {
	return func(s *Scheduler) { s.after = after }
}

// WithKey changes the granularity of pending markers and hotness lookups.
// The default is the query name alone.
func WithKey(key func(dnsmessage.Question) string) Option {
	return func(s *Scheduler) { s.key = key }
}

func New(tracker *popularity.Tracker, window time.Duration, exchange Exchanger, save Saver, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		tracker:  tracker,
		pending:  cmap.New[*pending](),
		window:   window,
		key:      entities.NameKey,
		exchange: exchange,
		save:     save,
		now:      time.Now,
		after: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delay is how long after a save with the given TTL the renewal fires.
func Delay(ttl uint32) time.Duration {
	return time.Duration(float64(ttl) * Fraction * float64(time.Second))
}

// Consider arms a renewal for q if the name is still hot, its TTL is long
// enough and no renewal is already pending for it. It matches the
// recordcache.SaveHook signature.
func (s *Scheduler) Consider(q dnsmessage.Question, res entities.Result, ttl uint32) {
	s.schedule(q, res, ttl)
}

func (s *Scheduler) schedule(q dnsmessage.Question, res entities.Result, ttl uint32) bool {
	if s.ctx.Err() != nil {
		return false
	}
	key := s.key(q)
	last, ok := s.tracker.Last(key)
	if !ok {
		return false
	}
	if ttl <= MinTTL {
		return false
	}
	if s.now().Sub(last) >= s.window {
		return false
	}

	p := &pending{}
	if !s.pending.SetIfAbsent(key, p) {
		return false
	}
	servers := res.Servers
	delay := Delay(ttl)
	p.mu.Lock()
	p.timer = s.after(delay, func() { s.fire(key, q, servers) })
	p.mu.Unlock()
	s.armed.Add(1)

	if s.Debug {
		log.Printf("Renewal: %s %s armed in %v", q.Name, q.Type, delay)
	}
	return true
}

func (s *Scheduler) fire(key string, q dnsmessage.Question, servers []entities.Upstream) {
	s.pending.Remove(key)
	if s.ctx.Err() != nil {
		return
	}

	res, err := s.exchange(s.ctx, q, servers)
	if err != nil {
		s.failed.Add(1)
		if s.Debug {
			log.Printf("Renewal: %v", fmt.Errorf("%w for %s %s: %w", ErrRenewalFailed, q.Name, q.Type, err))
		}
		return
	}
	s.renewed.Add(1)
	ttl := s.save(q, res)
	if s.Debug {
		log.Printf("Renewal: %s %s refreshed, ttl %d", q.Name, q.Type, ttl)
	}
}

// Pending reports whether a renewal is outstanding for key.
func (s *Scheduler) Pending(key string) bool {
	return s.pending.Has(key)
}

// PendingCount is the number of outstanding renewals.
func (s *Scheduler) PendingCount() int {
	return s.pending.Count()
}

type Stats struct {
	Pending int
	Armed   uint64
	Renewed uint64
	Failed  uint64
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Pending: s.pending.Count(),
		Armed:   s.armed.Load(),
		Renewed: s.renewed.Load(),
		Failed:  s.failed.Load(),
	}
}

// Close stops all pending timers. In-flight renewals see a cancelled context.
func (s *Scheduler) Close() {
	s.cancel()
	for item := range s.pending.IterBuffered() {
		p := item.Val
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
		}
		p.mu.Unlock()
		s.pending.Remove(item.Key)
	}
}
