// Package querycache is the in-memory remote data cache. Queries are keyed
// by Key, served fresh within a stale time, revalidated in the background
// once stale, and coalesced so concurrent readers of one key share a single
// request. Every entry carries a generation; a response only lands if the
// entry still has the generation it was requested under, so invalidated,
// cancelled or removed queries never receive late results.
package querycache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader performs the network call for a query.
type Loader[T any] func(ctx context.Context) (T, error)

// Cache holds query results. The zero value is not usable; call New.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	seq       uint64
	flights   singleflight.Group
	staleTime time.Duration
	now       func() time.Time
	logger    *slog.Logger
	bg        sync.WaitGroup
}

type entry struct {
	key         Key
	gen         uint64
	value       any
	hasValue    bool
	updatedAt   time.Time
	invalidated bool
	lastErr     error

	// infinite queries
	pages []any
	infos []PageInfo
	next  Cursor
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleTime sets the default freshness window. Zero means data is stale
// as soon as it lands and every read revalidates in the background.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) {
		c.staleTime = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchOption adjusts a single query.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	staleTime time.Duration
}

// StaleTime overrides the cache-wide freshness window for one query.
func StaleTime(d time.Duration) FetchOption {
	return func(o *fetchOptions) {
		o.staleTime = d
	}
}

func (c *Cache) fetchOptions(opts []FetchOption) fetchOptions {
	o := fetchOptions{staleTime: c.staleTime}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// entryLocked returns the entry for key, creating it with a new generation.
// Callers hold c.mu.
func (c *Cache) entryLocked(key Key) *entry {
	ks := key.String()
	e, ok := c.entries[ks]
	if !ok {
		c.seq++
		e = &entry{key: key, gen: c.seq, next: Start()}
		c.entries[ks] = e
	}
	return e
}

func (c *Cache) bumpLocked(e *entry) {
	c.seq++
	e.gen = c.seq
}

func (c *Cache) freshLocked(e *entry, staleTime time.Duration) bool {
	return !e.invalidated && c.now().Sub(e.updatedAt) < staleTime
}

func flightKey(key Key, gen uint64, suffix string) string {
	return fmt.Sprintf("%s#%d%s", key.String(), gen, suffix)
}

// Fetch returns the cached value for key when it is fresh. A stale value is
// returned immediately while load refreshes it in the background. With no
// value, or after Invalidate, the caller waits for load. Concurrent callers
// share one in-flight load. A failed load leaves the previous value in place
// and returns the error to the callers of that load only.
func Fetch[T any](ctx context.Context, c *Cache, key Key, load Loader[T], opts ...FetchOption) (T, error) {
	o := c.fetchOptions(opts)

	c.mu.Lock()
	e := c.entryLocked(key)
	gen := e.gen
	if cached, ok := e.value.(T); ok && e.hasValue && !e.invalidated {
		fresh := c.freshLocked(e, o.staleTime)
		c.mu.Unlock()
		if !fresh {
			c.revalidate(ctx, key, gen, anyLoader(load))
		}
		return cached, nil
	}
	c.mu.Unlock()

	v, err := c.await(ctx, key, gen, anyLoader(load))
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("query %s: loader returned %T", key.Display(), v)
	}
	return out, nil
}

func anyLoader[T any](load Loader[T]) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return load(ctx)
	}
}

func (c *Cache) await(ctx context.Context, key Key, gen uint64, load func(context.Context) (any, error)) (any, error) {
	ch := c.flights.DoChan(flightKey(key, gen, ""), func() (any, error) {
		return c.run(ctx, key, gen, load)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) revalidate(ctx context.Context, key Key, gen uint64, load func(context.Context) (any, error)) {
	ch := c.flights.DoChan(flightKey(key, gen, ""), func() (any, error) {
		return c.run(ctx, key, gen, load)
	})
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if res := <-ch; res.Err != nil {
			c.logger.Warn("background refresh failed", "cache_key", key.Display(), "error", res.Err)
		}
	}()
}

// run executes load detached from the first caller's cancellation, since
// other callers may share the result, and applies the result only if the
// entry still has generation gen.
func (c *Cache) run(ctx context.Context, key Key, gen uint64, load func(context.Context) (any, error)) (any, error) {
	v, err := load(context.WithoutCancel(ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.gen != gen {
		c.logger.Debug("discarding superseded response", "cache_key", key.Display(), "generation", gen)
		return v, err
	}
	if err != nil {
		e.lastErr = err
		return nil, err
	}
	e.value = v
	e.hasValue = true
	e.updatedAt = c.now()
	e.invalidated = false
	e.lastErr = nil
	return v, nil
}

// Invalidate marks every entry whose key starts with prefix as stale. The
// next Fetch of such a key waits for fresh data, and any request already in
// flight for it is discarded when it settles.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.invalidated = true
		c.bumpLocked(e)
		n++
	}
	c.logger.Debug("cache invalidated", "prefix", prefix.Display(), "entries", n)
	return n
}

// Cancel abandons in-flight requests for keys under prefix. Cached values and
// their freshness are untouched; only late responses are dropped.
func (c *Cache) Cancel(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			c.bumpLocked(e)
		}
	}
}

// Remove drops every entry under prefix.
func (c *Cache) Remove(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ks, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, ks)
		}
	}
}

// Set stores v as fresh data for key, superseding any request in flight.
func Set[T any](c *Cache, key Key, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	c.bumpLocked(e)
	e.value = v
	e.hasValue = true
	e.updatedAt = c.now()
	e.invalidated = false
	e.lastErr = nil
}

// State describes a cached entry without triggering a fetch.
type State struct {
	Exists      bool
	HasValue    bool
	Invalidated bool
	UpdatedAt   time.Time
	LastErr     error
}

// Peek returns the cached value for key, if any, and its state.
func Peek[T any](c *Cache, key Key) (T, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	e, ok := c.entries[key.String()]
	if !ok {
		return zero, State{}
	}
	st := State{
		Exists:      true,
		HasValue:    e.hasValue,
		Invalidated: e.invalidated,
		UpdatedAt:   e.updatedAt,
		LastErr:     e.lastErr,
	}
	v, ok := e.value.(T)
	if !ok {
		st.HasValue = false
		return zero, st
	}
	return v, st
}

// Wait blocks until background refreshes started so far have settled.
func (c *Cache) Wait() {
	c.bg.Wait()
}

// Len reports the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
