package recordcache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"hotdns/resolver/entities"

	"github.com/patrickmn/go-cache"
	"golang.org/x/net/dns/dnsmessage"
)

// DefaultTTL applies to results that carry neither answer nor authority records.
const DefaultTTL = 600

const (
	purgeTime = 10 * time.Minute
	// go-cache keeps items slightly longer than our own expiry so that it
	// never hides an entry we still consider live.
	grace = time.Second
)

type entry struct {
	question dnsmessage.Question
	result   entities.Result
	expireAt time.Time
}

// SaveHook runs synchronously at the end of every Save.
type SaveHook func(q dnsmessage.Question, res entities.Result, ttl uint32)

// Cache maps (name, type) to the last successful result for it.
// Expiry is lazy: an outdated entry is dropped when it is next read.
type Cache struct {
	// mu orders Set against the expiry delete of the same key.
	mu      sync.Mutex
	records *cache.Cache
	now     func() time.Time
	onSave  SaveHook
}

type Option func(*Cache)

// WithClock replaces time.Now for expiry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(opts ...Option) *Cache {
	c := &Cache{
		records: cache.New(cache.NoExpiration, purgeTime),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnSave installs the hook called after each Save.
func (c *Cache) OnSave(hook SaveHook) {
	c.onSave = hook
}

// TTLOf derives the lifetime of a result: the TTL of the first answer record,
// else of the first authority record, else DefaultTTL.
func TTLOf(res entities.Result) uint32 {
	if len(res.Answer) > 0 {
		return res.Answer[0].Header.TTL
	}
	if len(res.Authority) > 0 {
		return res.Authority[0].Header.TTL
	}
	return DefaultTTL
}

// Save stores res for q, replacing any previous entry, and returns the TTL
// it was stored with.
func (c *Cache) Save(q dnsmessage.Question, res entities.Result) uint32 {
	ttl := TTLOf(res)
	lifetime := time.Duration(ttl) * time.Second
	e := entry{
		question: q,
		result:   res,
		expireAt: c.now().Add(lifetime),
	}
	c.mu.Lock()
	c.records.Set(entities.Key(q), e, lifetime+grace)
	c.mu.Unlock()

	if c.onSave != nil {
		c.onSave(q, res, ttl)
	}
	return ttl
}

func (c *Cache) lookup(q dnsmessage.Question) (entry, time.Time, bool) {
	key := entities.Key(q)
	v, ok := c.records.Get(key)
	if !ok {
		return entry{}, time.Time{}, false
	}
	e := v.(entry)
	now := c.now()
	if !now.Before(e.expireAt) {
		c.expire(key, now)
		return entry{}, time.Time{}, false
	}
	return e, now, true
}

// expire deletes key only if what is stored there now is still outdated,
// so a Save that landed after the read survives.
func (c *Cache) expire(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.records.Get(key)
	if ok && now.Before(v.(entry).expireAt) {
		return
	}
	c.records.Delete(key)
}

// Get returns the stored result for q unless it has expired.
func (c *Cache) Get(q dnsmessage.Question) (entities.Result, bool) {
	e, _, ok := c.lookup(q)
	return e.result, ok
}

// RemainingTTL returns the whole seconds left before q expires.
func (c *Cache) RemainingTTL(q dnsmessage.Question) (uint32, bool) {
	e, now, ok := c.lookup(q)
	if !ok {
		return 0, false
	}
	return remaining(e.expireAt, now), true
}

// Lookup returns the stored result together with its remaining TTL, both
// taken from the same read.
func (c *Cache) Lookup(q dnsmessage.Question) (entities.Result, uint32, bool) {
	e, now, ok := c.lookup(q)
	if !ok {
		return entities.Result{}, 0, false
	}
	return e.result, remaining(e.expireAt, now), true
}

func remaining(expireAt, now time.Time) uint32 {
	d := expireAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Second)
}

// Delete drops the entry for q.
func (c *Cache) Delete(q dnsmessage.Question) {
	c.records.Delete(entities.Key(q))
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.records.Flush()
}

func (c *Cache) Len() int {
	return c.records.ItemCount()
}

// Entry describes a live cache entry.
type Entry struct {
	Name      string
	Type      dnsmessage.Type
	TTL       uint32
	Answers   int
	Authority int
	RCode     dnsmessage.RCode
	Servers   []entities.Upstream
}

// Entries lists live entries sorted by name and type, optionally restricted
// to suffix and the names below it.
func (c *Cache) Entries(suffix string) []Entry {
	now := c.now()
	suffix = strings.ToLower(suffix)
	if suffix != "" {
		suffix = entities.Fqdn(suffix)
	}
	var out []Entry
	for _, item := range c.records.Items() {
		e := item.Object.(entry)
		if !now.Before(e.expireAt) {
			continue
		}
		name := entities.CanonicalName(e.question.Name)
		if suffix != "" && suffix != "." && name != suffix && !strings.HasSuffix(name, "."+suffix) {
			continue
		}
		out = append(out, Entry{
			Name:      name,
			Type:      e.question.Type,
			TTL:       remaining(e.expireAt, now),
			Answers:   len(e.result.Answer),
			Authority: len(e.result.Authority),
			RCode:     e.result.RCode,
			Servers:   e.result.Servers,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}
