package renewal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hotdns/popularity"
	"hotdns/recordcache"
	"hotdns/resolver/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) after(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimers) last() *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

type harness struct {
	now     time.Time
	tracker *popularity.Tracker
	timers  *fakeTimers
	calls   []dnsmessage.Question
	servers [][]entities.Upstream
	saves   []entities.Result
	result  entities.Result
	err     error
}

func newHarness() *harness {
	h := &harness{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), timers: &fakeTimers{}}
	h.tracker = popularity.NewTracker(popularity.WithClock(h.clock))
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) exchange(_ context.Context, q dnsmessage.Question, servers []entities.Upstream) (entities.Result, error) {
	h.calls = append(h.calls, q)
	h.servers = append(h.servers, servers)
	return h.result, h.err
}

func (h *harness) save(_ dnsmessage.Question, res entities.Result) uint32 {
	h.saves = append(h.saves, res)
	return recordcache.TTLOf(res)
}

func (h *harness) scheduler(opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(h.clock), WithTimers(h.timers.after)}, opts...)
	return New(h.tracker, time.Hour, h.exchange, h.save, opts...)
}

func question(name string, typ dnsmessage.Type) dnsmessage.Question {
	return dnsmessage.Question{Name: dnsmessage.MustNewName(name), Type: typ, Class: dnsmessage.ClassINET}
}

func answer(name string, ttl uint32) entities.Result {
	return entities.Result{Answer: []dnsmessage.Resource{{
		Header: dnsmessage.ResourceHeader{Name: dnsmessage.MustNewName(name), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: ttl},
		Body:   &dnsmessage.AResource{A: [4]byte{192, 0, 2, 10}},
	}}}
}

func TestDelay(t *testing.T) {
	assert.Equal(t, 80*time.Second, Delay(100))
	assert.Equal(t, 240*time.Second, Delay(300))
	assert.Equal(t, 8800*time.Millisecond, Delay(11))
}

func TestNotArmedWithoutClientQuery(t *testing.T) {
	h := newHarness()
	s := h.scheduler()
	assert.False(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 300), 300))
	assert.Equal(t, 0, h.timers.count())
}

func TestNotArmedForShortTTL(t *testing.T) {
	h := newHarness()
	s := h.scheduler()
	h.tracker.Touch("example.com.")
	assert.False(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 10), 10))
	assert.True(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 11), 11))
}

func TestNotArmedOutsideHotWindow(t *testing.T) {
	h := newHarness()
	s := h.scheduler()
	h.tracker.Touch("example.com.")
	h.now = h.now.Add(time.Hour)
	assert.False(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 300), 300))

	h.now = h.now.Add(-time.Second)
	assert.True(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 300), 300))
}

func TestOnePendingPerName(t *testing.T) {
	h := newHarness()
	s := h.scheduler()
	h.tracker.Touch("example.com.")

	require.True(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 300), 300))
	assert.False(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 300), 300))
	assert.False(t, s.schedule(question("Example.COM.", dnsmessage.TypeMX), answer("example.com.", 300), 300),
		"another type of the same name shares the marker")
	assert.Equal(t, 1, h.timers.count())
	assert.True(t, s.Pending("example.com."))
	assert.Equal(t, 1, s.PendingCount())
}

func TestPerTypeKeys(t *testing.T) {
	h := newHarness()
	s := h.scheduler(WithKey(entities.Key))
	h.tracker.Touch(entities.Key(question("example.com.", dnsmessage.TypeA)))
	h.tracker.Touch(entities.Key(question("example.com.", dnsmessage.TypeMX)))

	assert.True(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 300), 300))
	assert.True(t, s.schedule(question("example.com.", dnsmessage.TypeMX), answer("example.com.", 300), 300))
	assert.False(t, s.schedule(question("example.com.", dnsmessage.TypeMX), answer("example.com.", 300), 300))
	assert.Equal(t, 2, s.PendingCount())
}

func TestFireRenewsAndClearsMarker(t *testing.T) {
	h := newHarness()
	s := h.scheduler()
	h.tracker.Touch("example.com.")
	servers := []entities.Upstream{{Host: "10.1.1.1", Port: 53}}
	prior := answer("example.com.", 100)
	prior.Servers = servers
	h.result = answer("example.com.", 200)

	s.Consider(question("example.com.", dnsmessage.TypeA), prior, 100)
	timer := h.timers.last()
	require.NotNil(t, timer)
	assert.Equal(t, 80*time.Second, timer.delay)

	timer.fn()
	assert.False(t, s.Pending("example.com."))
	require.Len(t, h.calls, 1)
	assert.Equal(t, servers, h.servers[0], "renewal uses the server set that produced the entry")
	require.Len(t, h.saves, 1)
	assert.Equal(t, h.result, h.saves[0])

	st := s.Stats()
	assert.EqualValues(t, 1, st.Armed)
	assert.EqualValues(t, 1, st.Renewed)
	assert.EqualValues(t, 0, st.Failed)
}

func TestFailedRenewalIsDropped(t *testing.T) {
	h := newHarness()
	s := h.scheduler()
	h.tracker.Touch("example.com.")
	h.err = errors.New("boom")

	s.Consider(question("example.com.", dnsmessage.TypeA), answer("example.com.", 100), 100)
	h.timers.last().fn()

	assert.False(t, s.Pending("example.com."), "marker cleared even on failure")
	assert.Empty(t, h.saves)
	assert.EqualValues(t, 1, s.Stats().Failed)

	// next save may arm again
	assert.True(t, s.schedule(question("example.com.", dnsmessage.TypeA), answer("example.com.", 100), 100))
}

func TestChainWithCache(t *testing.T) {
	h := newHarness()
	cache := recordcache.NewCache(recordcache.WithClock(h.clock))
	s := New(h.tracker, time.Hour, h.exchange, cache.Save, WithClock(h.clock), WithTimers(h.timers.after))
	cache.OnSave(s.Consider)

	q := question("example.com.", dnsmessage.TypeA)
	h.tracker.Touch("example.com.")
	cache.Save(q, answer("example.com.", 100))
	require.Equal(t, 1, h.timers.count())
	assert.Equal(t, 80*time.Second, h.timers.last().delay)

	h.now = h.now.Add(80 * time.Second)
	h.result = answer("example.com.", 50)
	h.timers.last().fn()

	ttl, ok := cache.RemainingTTL(q)
	require.True(t, ok)
	assert.EqualValues(t, 50, ttl, "renewed entry replaced the old one")
	require.Equal(t, 2, h.timers.count(), "renewal re-armed itself")
	assert.Equal(t, 40*time.Second, h.timers.last().delay)

	// renewal with a short TTL ends the chain
	h.now = h.now.Add(40 * time.Second)
	h.result = answer("example.com.", 5)
	h.timers.last().fn()
	assert.Equal(t, 2, h.timers.count())
	assert.False(t, s.Pending("example.com."))
}

func TestChainStopsWhenNameGoesCold(t *testing.T) {
	h := newHarness()
	cache := recordcache.NewCache(recordcache.WithClock(h.clock))
	s := New(h.tracker, 5*time.Minute, h.exchange, cache.Save, WithClock(h.clock), WithTimers(h.timers.after))
	cache.OnSave(s.Consider)

	q := question("example.com.", dnsmessage.TypeA)
	h.tracker.Touch("example.com.")
	h.result = answer("example.com.", 300)
	cache.Save(q, h.result)
	require.Equal(t, 1, h.timers.count())

	// 4 minutes after the last client query: still inside the window
	h.now = h.now.Add(Delay(300))
	h.timers.last().fn()
	require.Equal(t, 2, h.timers.count())

	// 8 minutes: the renewal still lands in the cache but arms nothing
	h.now = h.now.Add(Delay(300))
	h.timers.last().fn()
	assert.Equal(t, 2, h.timers.count())
	_, ok := cache.Get(q)
	assert.True(t, ok)
	assert.False(t, s.Pending("example.com."))
}

func TestCloseStopsTimers(t *testing.T) {
	h := newHarness()
	s := h.scheduler()
	h.tracker.Touch("a.example.")
	h.tracker.Touch("b.example.")
	s.Consider(question("a.example.", dnsmessage.TypeA), answer("a.example.", 100), 100)
	s.Consider(question("b.example.", dnsmessage.TypeA), answer("b.example.", 100), 100)
	require.Equal(t, 2, h.timers.count())

	s.Close()
	for _, tm := range h.timers.timers {
		assert.True(t, tm.stopped)
	}
	assert.Equal(t, 0, s.PendingCount())
	assert.False(t, s.schedule(question("a.example.", dnsmessage.TypeA), answer("a.example.", 100), 100))

	// a timer that raced Close does nothing
	h.timers.timers[0].fn()
	assert.Empty(t, h.calls)
}
