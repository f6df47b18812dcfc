package reqcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingFetcher struct {
	calls atomic.Int32
	value any
	err   error
}

func (f *countingFetcher) Fetch(context.Context) (any, error) {
	f.calls.Add(1)
	return f.value, f.err
}

func newTestCache(clock *fakeClock, ttl time.Duration) *Cache {
	return New(WithClock(clock.Now), WithDefaultTTL(ttl), WithName("test"))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGetServesFreshValueWithoutFetching(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Second)
	f := &countingFetcher{value: "warehouses"}

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), "w", f.Fetch)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != "warehouses" {
			t.Fatalf("Get() = %v, want warehouses", got)
		}
		clock.Advance(300 * time.Millisecond)
	}

	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetcher called %d times, want 1", n)
	}
	if s := c.Stats(); s.Hits != 2 || s.Misses != 1 {
		t.Fatalf("Stats() = %+v, want 2 hits and 1 miss", s)
	}
}

func TestGetFetchesAgainOnceTTLElapses(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Second)
	f := &countingFetcher{value: 1}

	if _, err := c.Get(context.Background(), "k", f.Fetch); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// now - fetchedAt == ttl is already stale.
	clock.Advance(time.Second)
	if _, err := c.Get(context.Background(), "k", f.Fetch); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetcher called %d times, want 2", n)
	}
}

func TestWarehouseScenario(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Second)
	warehouses := []map[string]string{{"id": "1"}}
	f := &countingFetcher{value: warehouses}

	steps := []struct {
		at        time.Duration
		wantCalls int32
	}{
		{at: 0, wantCalls: 1},
		{at: 500 * time.Millisecond, wantCalls: 1},
		{at: 1500 * time.Millisecond, wantCalls: 2},
	}

	var elapsed time.Duration
	for _, step := range steps {
		clock.Advance(step.at - elapsed)
		elapsed = step.at

		got, err := c.Get(context.Background(), "w", f.Fetch)
		if err != nil {
			t.Fatalf("t=%v: Get() error = %v", step.at, err)
		}
		if list, ok := got.([]map[string]string); !ok || list[0]["id"] != "1" {
			t.Fatalf("t=%v: Get() = %v", step.at, got)
		}
		if n := f.calls.Load(); n != step.wantCalls {
			t.Fatalf("t=%v: fetcher called %d times, want %d", step.at, n, step.wantCalls)
		}
	}
}

func TestPerCallTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Hour)
	f := &countingFetcher{value: "po"}

	if _, err := c.Get(context.Background(), "po", f.Fetch, WithTTL(2*time.Minute)); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(3 * time.Minute)
	if _, err := c.Get(context.Background(), "po", f.Fetch, WithTTL(2*time.Minute)); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetcher called %d times, want 2", n)
	}
	if st := c.Peek("po"); st.TTL != 2*time.Minute {
		t.Fatalf("Peek().TTL = %v, want 2m", st.TTL)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Minute)
	fa := &countingFetcher{value: "a"}
	fb := &countingFetcher{value: "b"}

	for i := 0; i < 2; i++ {
		a, err := c.Get(context.Background(), "a", fa.Fetch)
		if err != nil || a != "a" {
			t.Fatalf("Get(a) = %v, %v", a, err)
		}
		b, err := c.Get(context.Background(), "b", fb.Fetch)
		if err != nil || b != "b" {
			t.Fatalf("Get(b) = %v, %v", b, err)
		}
	}

	if fa.calls.Load() != 1 || fb.calls.Load() != 1 {
		t.Fatalf("calls a=%d b=%d, want 1 each", fa.calls.Load(), fb.calls.Load())
	}
	if keys := c.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys() = %v", keys)
	}
}

func TestRefetchBypassesTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Hour)
	f := &countingFetcher{value: "v"}

	if _, err := c.Get(context.Background(), "k", f.Fetch); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	c.Refetch("k")

	if st := c.Peek("k"); st.Fresh || st.Value != "v" {
		t.Fatalf("Peek() after Refetch = %+v, want stale value kept", st)
	}

	if _, err := c.Get(context.Background(), "k", f.Fetch); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetcher called %d times, want 2", n)
	}
	if st := c.Peek("k"); !st.Fresh {
		t.Fatalf("Peek() after refetched Get = %+v, want fresh", st)
	}
}

func TestReloadFetchesImmediately(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Hour)
	var n atomic.Int32
	fetch := func(context.Context) (any, error) { return n.Add(1), nil }

	if _, err := c.Get(context.Background(), "k", fetch); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := c.Reload(context.Background(), "k", fetch)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got != int32(2) {
		t.Fatalf("Reload() = %v, want 2", got)
	}
}

func TestFailedFetchIsNotCached(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Hour)
	boom := errors.New("backend unavailable")
	bad := &countingFetcher{err: boom}
	good := &countingFetcher{value: "ok"}

	if _, err := c.Get(context.Background(), "k", bad.Fetch); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want %v", err, boom)
	}
	if st := c.Peek("k"); !errors.Is(st.Err, boom) || st.Value != nil {
		t.Fatalf("Peek() after failure = %+v", st)
	}

	got, err := c.Get(context.Background(), "k", good.Fetch)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "ok" || good.calls.Load() != 1 {
		t.Fatalf("Get() = %v with %d calls, want ok with 1", got, good.calls.Load())
	}
	if st := c.Peek("k"); st.Err != nil {
		t.Fatalf("Peek().Err = %v, want cleared", st.Err)
	}
	if s := c.Stats(); s.Failures != 1 {
		t.Fatalf("Stats().Failures = %d, want 1", s.Failures)
	}
}

func TestConcurrentGetsShareOneFetch(t *testing.T) {
	c := New()
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan any, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", fetch)
			if err != nil {
				errs <- err
				return
			}
			results <- v
		}()
	}

	waitFor(t, "all callers to join", func() bool {
		s := c.Stats()
		return s.Misses == 1 && s.Shared == callers-1
	})
	if st := c.Peek("k"); !st.Loading {
		t.Fatalf("Peek().Loading = false while fetch in flight")
	}
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Get() error = %v", err)
	}
	for v := range results {
		if v != "shared" {
			t.Fatalf("Get() = %v, want shared", v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetcher called %d times, want 1", n)
	}
}

func TestRefetchDetachesInFlightFetch(t *testing.T) {
	c := New()
	release := make(chan struct{})
	slow := func(context.Context) (any, error) {
		<-release
		return "old", nil
	}

	oldResult := make(chan any, 1)
	go func() {
		v, _ := c.Get(context.Background(), "k", slow)
		oldResult <- v
	}()
	waitFor(t, "slow fetch to start", func() bool { return c.Peek("k").Loading })

	c.Refetch("k")
	got, err := c.Get(context.Background(), "k", func(context.Context) (any, error) { return "new", nil })
	if err != nil || got != "new" {
		t.Fatalf("Get() = %v, %v; want new", got, err)
	}

	close(release)
	if v := <-oldResult; v != "old" {
		t.Fatalf("detached waiter got %v, want old", v)
	}
	if st := c.Peek("k"); st.Value != "new" {
		t.Fatalf("Peek().Value = %v, want new", st.Value)
	}
}

func TestWhileAttachedSkipsWritesOfDetachedFetch(t *testing.T) {
	c := New()
	release := make(chan struct{})
	wrote := make(chan bool, 1)
	fetch := func(ctx context.Context) (any, error) {
		<-release
		wrote <- WhileAttached(ctx, func() {})
		return "old", nil
	}

	go func() { _, _ = c.Get(context.Background(), "k", fetch) }()
	waitFor(t, "fetch to start", func() bool { return c.Peek("k").Loading })

	c.Refetch("k")
	close(release)
	if <-wrote {
		t.Fatal("WhileAttached ran the write after Refetch detached the fetch")
	}

	ran := false
	if !WhileAttached(context.Background(), func() { ran = true }) || !ran {
		t.Fatal("WhileAttached outside a fetch did not run the write")
	}
}

func TestWhileAttachedRunsForCurrentFetch(t *testing.T) {
	c := New()
	var wrote bool
	_, err := c.Get(context.Background(), "k", func(ctx context.Context) (any, error) {
		wrote = WhileAttached(ctx, func() {})
		return "v", nil
	})
	if err != nil || !wrote {
		t.Fatalf("Get() error = %v, write ran = %v; want nil, true", err, wrote)
	}
}

func TestRefetchWaitsForRunningWrite(t *testing.T) {
	c := New()
	inWrite := make(chan struct{})
	finishWrite := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		WhileAttached(ctx, func() {
			close(inWrite)
			<-finishWrite
		})
		return "v", nil
	}

	go func() { _, _ = c.Get(context.Background(), "k", fetch) }()
	<-inWrite

	refetched := make(chan struct{})
	go func() {
		c.Refetch("k")
		close(refetched)
	}()
	select {
	case <-refetched:
		t.Fatal("Refetch returned while a guarded write was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(finishWrite)
	select {
	case <-refetched:
	case <-time.After(time.Second):
		t.Fatal("Refetch did not return after the write finished")
	}
}

func TestAbandonedFetchSkipsGuardedWrites(t *testing.T) {
	c := New()
	wrote := make(chan bool, 1)
	fetch := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		wrote <- WhileAttached(context.WithoutCancel(ctx), func() {})
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _, _ = c.Get(ctx, "k", fetch) }()
	waitFor(t, "fetch to start", func() bool { return c.Peek("k").Loading })
	cancel()

	if <-wrote {
		t.Fatal("WhileAttached ran the write for an abandoned fetch")
	}
}

func TestAbandonedFetchIsCancelledAndNotStored(t *testing.T) {
	c := New()
	fetchDone := make(chan error, 1)
	fetch := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		fetchDone <- ctx.Err()
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	callerDone := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "k", fetch)
		callerDone <- err
	}()
	waitFor(t, "fetch to start", func() bool { return c.Peek("k").Loading })

	cancel()
	if err := <-callerDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("Get() error = %v, want context.Canceled", err)
	}
	if err := <-fetchDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("fetch context error = %v, want context.Canceled", err)
	}

	waitFor(t, "flight to finish", func() bool { return !c.Peek("k").Loading })
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after abandoned fetch", c.Len())
	}
	if s := c.Stats(); s.Abandoned != 1 {
		t.Fatalf("Stats().Abandoned = %d, want 1", s.Abandoned)
	}
}

func TestLeavingWaiterDoesNotCancelSharedFetch(t *testing.T) {
	c := New()
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return "kept", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	impatient, cancel := context.WithCancel(context.Background())
	impatientDone := make(chan error, 1)
	go func() {
		_, err := c.Get(impatient, "k", fetch)
		impatientDone <- err
	}()
	waitFor(t, "fetch to start", func() bool { return c.Peek("k").Loading })

	patientDone := make(chan any, 1)
	go func() {
		v, _ := c.Get(context.Background(), "k", fetch)
		patientDone <- v
	}()
	waitFor(t, "second waiter", func() bool { return c.Stats().Shared == 1 })

	cancel()
	if err := <-impatientDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("impatient Get() error = %v", err)
	}
	close(release)
	if v := <-patientDone; v != "kept" {
		t.Fatalf("patient Get() = %v, want kept", v)
	}
	if st := c.Peek("k"); st.Value != "kept" || !st.Fresh {
		t.Fatalf("Peek() = %+v, want fresh kept", st)
	}
}

func TestFetcherPanicIsReturnedAsError(t *testing.T) {
	c := New()
	_, err := c.Get(context.Background(), "k", func(context.Context) (any, error) {
		panic("nil map")
	})
	if !errors.Is(err, ErrFetchPanic) {
		t.Fatalf("Get() error = %v, want ErrFetchPanic", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestGetRejectsInvalidInput(t *testing.T) {
	c := New()
	if _, err := c.Get(context.Background(), "", func(context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Get(\"\") error = %v, want ErrEmptyKey", err)
	}
	if _, err := c.Get(context.Background(), "k", nil); !errors.Is(err, ErrNilFetcher) {
		t.Fatalf("Get(nil) error = %v, want ErrNilFetcher", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "k", func(context.Context) (any, error) { return 1, nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestFetchTyped(t *testing.T) {
	c := New()
	ids, err := Fetch(context.Background(), c, "ids", func(context.Context) ([]string, error) {
		return []string{"wh-1", "wh-2"}, nil
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Fetch() = %v", ids)
	}

	if _, err := Fetch(context.Background(), c, "ids", func(context.Context) (int, error) { return 0, nil }); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Fetch() error = %v, want ErrTypeMismatch", err)
	}
}

func TestSweepDropsStaleEntries(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Minute)
	value := func(context.Context) (any, error) { return 1, nil }

	if _, err := c.Get(context.Background(), "short", value, WithTTL(time.Second)); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := c.Get(context.Background(), "long", value); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(2 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "long" {
		t.Fatalf("Keys() = %v, want [long]", keys)
	}
}

func TestWarmLoadsAllKeys(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now), WithDefaultTTL(time.Minute))
	var loads []Load
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("k%02d", i)
		loads = append(loads, Load{Key: key, Fetch: func(context.Context) (any, error) { return key, nil }})
	}
	loads = append(loads, Load{Key: "orders", Fetch: func(context.Context) (any, error) { return 1, nil }, TTL: 2 * time.Minute})

	if err := c.Warm(context.Background(), loads...); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if c.Len() != 21 {
		t.Fatalf("Len() = %d, want 21", c.Len())
	}
	if ttl := c.Peek("orders").TTL; ttl != 2*time.Minute {
		t.Fatalf("Peek(orders).TTL = %v, want 2m", ttl)
	}
	if ttl := c.Peek("k00").TTL; ttl != time.Minute {
		t.Fatalf("Peek(k00).TTL = %v, want 1m", ttl)
	}
}

func TestWarmReportsFailure(t *testing.T) {
	c := New()
	boom := errors.New("suppliers down")
	err := c.Warm(context.Background(), Load{
		Key:   "suppliers",
		Fetch: func(context.Context) (any, error) { return nil, boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Warm() error = %v, want %v", err, boom)
	}
}

type recordingMetrics struct {
	hits, misses, shared, failures, abandons atomic.Int32
}

func (m *recordingMetrics) Hit()     { m.hits.Add(1) }
func (m *recordingMetrics) Miss()    { m.misses.Add(1) }
func (m *recordingMetrics) Shared()  { m.shared.Add(1) }
func (m *recordingMetrics) Failure() { m.failures.Add(1) }
func (m *recordingMetrics) Abandon() { m.abandons.Add(1) }

func TestMetricsHook(t *testing.T) {
	m := &recordingMetrics{}
	c := New(WithMetrics(m))
	ok := func(context.Context) (any, error) { return 1, nil }
	fail := func(context.Context) (any, error) { return nil, errors.New("x") }

	_, _ = c.Get(context.Background(), "a", ok)
	_, _ = c.Get(context.Background(), "a", ok)
	_, _ = c.Get(context.Background(), "b", fail)

	waitFor(t, "failure metric", func() bool { return m.failures.Load() == 1 })
	if m.hits.Load() != 1 || m.misses.Load() != 2 {
		t.Fatalf("hits=%d misses=%d, want 1 and 2", m.hits.Load(), m.misses.Load())
	}
	if r := c.Stats().HitRatio(); r < 0.33 || r > 0.34 {
		t.Fatalf("HitRatio() = %v, want 1/3", r)
	}
}
