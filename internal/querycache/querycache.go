// Package querycache provides the console's keyed query cache.
//
// Entries are keyed by REST path including the query string. Concurrent
// fetches of one key share a single call, fresh entries are served without a
// fetch, and mutations drop dependent keys explicitly through Invalidate and
// InvalidatePrefix. One Cache is created per console server.
package querycache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultStaleTime is how long a fetched value is served without refetching.
const DefaultStaleTime = 30 * time.Second

// Invalidation describes one call to Invalidate or InvalidatePrefix.
type Invalidation struct {
	Key    string
	Prefix bool
}

// Opts holds configuration for a Cache.
type Opts struct {
	StaleTime    time.Duration
	Clock        func() time.Time
	OnInvalidate func(Invalidation)
}

// Option defines a configuration option for a Cache.
type Option func(*Opts)

// WithStaleTime sets how long entries stay fresh. Zero disables caching of
// values while keeping fetch deduplication.
func WithStaleTime(d time.Duration) Option {
	return func(o *Opts) { o.StaleTime = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithOnInvalidate registers a hook observing every invalidation.
func WithOnInvalidate(fn func(Invalidation)) Option {
	return func(o *Opts) { o.OnInvalidate = fn }
}

type entry struct {
	value     interface{}
	fetchedAt time.Time
}

// Cache is a keyed query cache safe for concurrent use.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]entry
	generations  map[string]uint64 // every key ever fetched
	group        singleflight.Group
	staleTime    time.Duration
	now          func() time.Time
	onInvalidate func(Invalidation)
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	cfg := Opts{StaleTime: DefaultStaleTime, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	slog.Debug("querycache.New: cache created", "stale_time", cfg.StaleTime)
	return &Cache{
		entries:      make(map[string]entry),
		generations:  make(map[string]uint64),
		staleTime:    cfg.StaleTime,
		now:          cfg.Clock,
		onInvalidate: cfg.OnInvalidate,
	}
}

// Fetch returns the cached value for key when it is fresh. Otherwise it runs
// fn, sharing one call among concurrent callers of the same key, and stores
// the result. Errors are returned to every waiting caller and never cached.
// A result that completes after the key was invalidated is returned but not
// stored.
func (c *Cache) Fetch(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.staleTime {
		c.mu.Unlock()
		slog.Debug("Cache.Fetch: hit", "key", key)
		return e.value, nil
	}
	gen, seen := c.generations[key]
	if !seen {
		c.generations[key] = 0
	}
	c.mu.Unlock()

	// The shared call outlives any single caller's cancellation.
	callCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		slog.Debug("Cache.Fetch: fetching", "key", key)
		v, err := fn(callCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generations[key] == gen && c.staleTime > 0 {
			c.entries[key] = entry{value: v, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			slog.Debug("Cache.Fetch: fetch failed", "key", key, "error", res.Err)
			return nil, res.Err
		}
		return res.Val, nil
	}
}

// Peek returns the stored value for key regardless of freshness.
func (c *Cache) Peek(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.value, ok
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate drops the given keys. In-flight fetches for them are detached
// so the next Fetch starts a new call.
func (c *Cache) Invalidate(keys ...string) {
	for _, key := range keys {
		c.mu.Lock()
		c.drop(key)
		c.mu.Unlock()
		slog.Debug("Cache.Invalidate: key invalidated", "key", key)
		c.notify(Invalidation{Key: key})
	}
}

// InvalidatePrefix drops every key equal to prefix or nested under it as a
// path, e.g. "/api/calendar" drops "/api/calendar/calendars" and
// "/api/calendar?x=1" but not "/api/calendars".
func (c *Cache) InvalidatePrefix(prefix string) {
	base := strings.TrimSuffix(prefix, "/")
	c.mu.Lock()
	dropped := 0
	for key := range c.generations {
		if underPath(key, base) {
			c.drop(key)
			dropped++
		}
	}
	c.mu.Unlock()
	slog.Debug("Cache.InvalidatePrefix: prefix invalidated", "prefix", prefix, "dropped", dropped)
	c.notify(Invalidation{Key: prefix, Prefix: true})
}

// drop must be called with c.mu held.
func (c *Cache) drop(key string) {
	delete(c.entries, key)
	c.generations[key]++
	c.group.Forget(key)
}

func (c *Cache) notify(inv Invalidation) {
	if c.onInvalidate != nil {
		c.onInvalidate(inv)
	}
}

func underPath(key, base string) bool {
	if key == base {
		return true
	}
	if !strings.HasPrefix(key, base) {
		return false
	}
	next := key[len(base)]
	return next == '/' || next == '?'
}

// Fetch is the typed form of Cache.Fetch.
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: key %q holds %T", key, v)
	}
	return out, nil
}
