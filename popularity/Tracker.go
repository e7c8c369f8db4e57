package popularity

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Tracker remembers when each key was last asked for by a client.
type Tracker struct {
	last cmap.ConcurrentMap[string, time.Time]
	now  func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		last: cmap.New[time.Time](),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Touch records a client query for key at the current time.
func (t *Tracker) Touch(key string) {
	t.last.Set(key, t.now())
}

// Last returns the time key was last touched.
func (t *Tracker) Last(key string) (time.Time, bool) {
	return t.last.Get(key)
}

// Since returns how long ago key was last touched.
func (t *Tracker) Since(key string) (time.Duration, bool) {
	last, ok := t.last.Get(key)
	if !ok {
		return 0, false
	}
	return t.now().Sub(last), true
}

// Sweep forgets keys last touched before cutoff and returns how many went.
func (t *Tracker) Sweep(cutoff time.Time) int {
	removed := 0
	for _, key := range t.last.Keys() {
		if t.last.RemoveCb(key, func(_ string, v time.Time, exists bool) bool {
			return exists && v.Before(cutoff)
		}) {
			removed++
		}
	}
	return removed
}

func (t *Tracker) Len() int {
	return t.last.Count()
}
