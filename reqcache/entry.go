package reqcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
	invalid   bool
}

func (e *entry) fresh(now time.Time) bool {
	return !e.invalid && now.Sub(e.fetchedAt) < e.ttl
}

// flight is the single in-progress fetch for a key.
type flight struct {
	done     chan struct{}
	cancel   context.CancelFunc
	waiters  int
	finished bool
	val      any
	err      error

	// wmu is held by side writes the fetcher makes through WhileAttached.
	wmu      sync.Mutex
	detached atomic.Bool
}

// detach stops the fetcher's side writes. It waits for a write already
// running, so anything cleared after detach returns stays cleared.
func (f *flight) detach() {
	f.detached.Store(true)
	f.wmu.Lock()
	f.wmu.Unlock()
}

type flightKey struct{}

// WhileAttached runs write unless the flight serving ctx has been detached by
// Refetch or abandoned by its waiters, and reports whether it ran. Detaching
// blocks until a running write returns. Outside a flight write always runs.
func WhileAttached(ctx context.Context, write func()) bool {
	f, _ := ctx.Value(flightKey{}).(*flight)
	if f == nil {
		write()
		return true
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if f.detached.Load() {
		return false
	}
	write()
	return true
}

// State is a point-in-time view of one key.
type State struct {
	Key       string
	Value     any
	FetchedAt time.Time
	TTL       time.Duration
	Fresh     bool
	Loading   bool
	// Err is the last fetch failure for the key. It is informational only and
	// is cleared by the next successful fetch.
	Err error
}

// ExpiresAt returns when the stored value stops being fresh, or the zero time
// when nothing is stored.
func (s State) ExpiresAt() time.Time {
	if s.FetchedAt.IsZero() {
		return time.Time{}
	}
	return s.FetchedAt.Add(s.TTL)
}
