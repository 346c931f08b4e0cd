package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func counter(calls *int32, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestFetchServesFreshEntries(t *testing.T) {
	clock := newClock()
	c := New(WithStaleTime(time.Minute), WithClock(clock.Now))
	var calls int32

	for i := 0; i < 3; i++ {
		v, err := Fetch(context.Background(), c, "/api/clients", counter(&calls, "clients"))
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if v != "clients" {
			t.Fatalf("unexpected value %q", v)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 fetch, got %d", calls)
	}

	clock.Advance(time.Minute)
	if _, err := Fetch(context.Background(), c, "/api/clients", counter(&calls, "clients")); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls != 2 {
		t.Errorf("stale entry must refetch, got %d calls", calls)
	}
}

func TestFetchDeduplicatesConcurrentCalls(t *testing.T) {
	c := New()
	release := make(chan struct{})
	var calls int32
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "ok", nil
	}

	const n = 8
	var wg sync.WaitGroup
	started := make(chan struct{}, n)
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			v, err := Fetch(context.Background(), c, "/api/sessions", fn)
			if err != nil {
				t.Errorf("Fetch: %v", err)
			}
			results <- v
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if calls != 1 {
		t.Errorf("expected one shared call, got %d", calls)
	}
	for v := range results {
		if v != "ok" {
			t.Errorf("unexpected value %q", v)
		}
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	var calls int32
	fail := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", boom
	}

	if _, err := Fetch(context.Background(), c, "/api/documents", fail); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("error must not be stored")
	}
	v, err := Fetch(context.Background(), c, "/api/documents", counter(&calls, "docs"))
	if err != nil || v != "docs" {
		t.Fatalf("expected refetch to succeed, got %q, %v", v, err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestInvalidate(t *testing.T) {
	var seen []Invalidation
	c := New(WithOnInvalidate(func(inv Invalidation) { seen = append(seen, inv) }))
	var calls int32

	Fetch(context.Background(), c, "/api/clients", counter(&calls, "a"))
	Fetch(context.Background(), c, "/api/sessions", counter(&calls, "b"))
	c.Invalidate("/api/clients")

	if _, ok := c.Peek("/api/clients"); ok {
		t.Error("invalidated key must be dropped")
	}
	if _, ok := c.Peek("/api/sessions"); !ok {
		t.Error("unrelated key must be kept")
	}
	if len(seen) != 1 || seen[0] != (Invalidation{Key: "/api/clients"}) {
		t.Errorf("unexpected invalidations %+v", seen)
	}

	Fetch(context.Background(), c, "/api/clients", counter(&calls, "a"))
	if calls != 3 {
		t.Errorf("expected refetch after invalidation, got %d calls", calls)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New()
	var calls int32
	for _, key := range []string{"/api/calendar/calendars", "/api/calendar/status", "/api/calendar?x=1", "/api/calendars", "/api/sessions"} {
		Fetch(context.Background(), c, key, counter(&calls, key))
	}

	c.InvalidatePrefix("/api/calendar")

	for key, want := range map[string]bool{
		"/api/calendar/calendars": false,
		"/api/calendar/status":    false,
		"/api/calendar?x=1":       false,
		"/api/calendars":          true,
		"/api/sessions":           true,
	} {
		if _, ok := c.Peek(key); ok != want {
			t.Errorf("%s: present=%v, want %v", key, ok, want)
		}
	}
}

func TestInvalidateDuringFetchDiscardsResult(t *testing.T) {
	c := New()
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		Fetch(context.Background(), c, "/api/clients", func(context.Context) (string, error) {
			<-release
			return "old", nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	c.Invalidate("/api/clients")
	close(release)
	<-done

	if _, ok := c.Peek("/api/clients"); ok {
		t.Error("result of a fetch started before invalidation must not be stored")
	}
}

func TestFetchHonoursCallerContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fetch(ctx, c, "/api/ai/health", func(context.Context) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFetchTypeMismatch(t *testing.T) {
	c := New()
	Fetch(context.Background(), c, "/api/clients", func(context.Context) (int, error) { return 1, nil })
	if _, err := Fetch(context.Background(), c, "/api/clients", func(context.Context) (string, error) { return "", nil }); err == nil {
		t.Error("expected type mismatch error")
	}
}
