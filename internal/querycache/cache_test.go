package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(clock *fakeClock, staleTime time.Duration) *Cache {
	return New(WithClock(clock.Now), WithStaleTime(staleTime), WithLogger(logging.Discard()))
}

func countingLoader(calls *atomic.Int32, value string) Loader[string] {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestKeyIdentity(t *testing.T) {
	a := NewKey(Products, map[string]any{"category": "lamps", "page": 1})
	b := NewKey(Products, map[string]any{"page": 1, "category": "lamps"})
	assert.Equal(t, a.String(), b.String())

	type filters struct {
		Search string `json:"search,omitempty"`
		Page   int    `json:"page,omitempty"`
	}
	assert.Equal(t, NewKey(Products, filters{Search: "x"}).String(), NewKey(Products, filters{Search: "x"}).String())
	assert.NotEqual(t, NewKey(Products, filters{Search: "x"}).String(), NewKey(Products, filters{Search: "y"}).String())

	assert.True(t, NewKey(Orders, "list").HasPrefix(NewKey(Orders)))
	assert.False(t, NewKey(Order, "1").HasPrefix(NewKey(Orders)))
	assert.False(t, NewKey(Orders).HasPrefix(NewKey(Orders, "list")))
	assert.True(t, NewKey(Products, "infinite").With("x").HasPrefix(NewKey(Products, "infinite")))
	assert.Equal(t, "products/search/lamp", NewKey(Products, "search", "lamp").Display())
}

func TestFetchServesFreshValue(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Minute)
	var calls atomic.Int32
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := Fetch(ctx, c, NewKey(Products), countingLoader(&calls, "v1"))
		require.NoError(t, err)
		assert.Equal(t, "v1", v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchSharesInFlightRequest(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	key := NewKey(Products, "shared")
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "shared-result", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = Fetch(context.Background(), c, key, load)
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = Fetch(context.Background(), c, key, load)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-result", results[i])
	}
}

func TestFetchStaleWhileRevalidate(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, time.Minute)
	key := NewKey(Products)
	ctx := context.Background()

	_, err := Fetch(ctx, c, key, func(context.Context) (string, error) { return "old", nil })
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	var calls atomic.Int32
	v, err := Fetch(ctx, c, key, countingLoader(&calls, "new"))
	require.NoError(t, err)
	assert.Equal(t, "old", v, "stale data is served immediately")

	c.Wait()
	assert.Equal(t, int32(1), calls.Load())
	cached, st := Peek[string](c, key)
	assert.Equal(t, "new", cached)
	assert.Equal(t, clock.Now(), st.UpdatedAt)
}

func TestFetchPerQueryStaleTime(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, 0)
	var calls atomic.Int32
	ctx := context.Background()
	key := NewKey(Products, "search", "lamp")

	_, err := Fetch(ctx, c, key, countingLoader(&calls, "a"), StaleTime(30*time.Second))
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = Fetch(ctx, c, key, countingLoader(&calls, "a"), StaleTime(30*time.Second))
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	ctx := context.Background()
	ordersKey := NewKey(Orders, "list")
	detailKey := NewKey(Order, "o-1")

	_, err := Fetch(ctx, c, ordersKey, func(context.Context) (string, error) { return "before", nil })
	require.NoError(t, err)
	_, err = Fetch(ctx, c, detailKey, func(context.Context) (string, error) { return "detail", nil })
	require.NoError(t, err)

	assert.Equal(t, 1, c.Invalidate(NewKey(Orders)))

	var calls atomic.Int32
	v, err := Fetch(ctx, c, ordersKey, countingLoader(&calls, "after"))
	require.NoError(t, err)
	assert.Equal(t, "after", v)
	assert.Equal(t, int32(1), calls.Load())

	var detailCalls atomic.Int32
	d, err := Fetch(ctx, c, detailKey, countingLoader(&detailCalls, "other"))
	require.NoError(t, err)
	assert.Equal(t, "detail", d)
	assert.Equal(t, int32(0), detailCalls.Load())
}

func TestFailedFetchKeepsPreviousValue(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	ctx := context.Background()
	key := NewKey(Orders)
	boom := errors.New("network down")

	_, err := Fetch(ctx, c, key, func(context.Context) (string, error) { return "cached", nil })
	require.NoError(t, err)
	c.Invalidate(key)

	_, err = Fetch(ctx, c, key, func(context.Context) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)

	v, st := Peek[string](c, key)
	assert.Equal(t, "cached", v)
	assert.True(t, st.HasValue)
	assert.ErrorIs(t, st.LastErr, boom)

	v, err = Fetch(ctx, c, key, func(context.Context) (string, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestFailedFirstFetchDoesNotPoison(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	ctx := context.Background()
	key := NewKey(Product, "p1")

	_, err := Fetch(ctx, c, key, func(context.Context) (string, error) { return "", errors.New("timeout") })
	require.Error(t, err)

	v, err := Fetch(ctx, c, key, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestSupersededResponseIsDiscarded(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	ctx := context.Background()
	key := NewKey(Orders)
	started := make(chan struct{})
	release := make(chan struct{})

	slowDone := make(chan string)
	go func() {
		v, _ := Fetch(ctx, c, key, func(context.Context) (string, error) {
			close(started)
			<-release
			return "slow-and-old", nil
		})
		slowDone <- v
	}()
	<-started

	c.Invalidate(NewKey(Orders))
	v, err := Fetch(ctx, c, key, func(context.Context) (string, error) { return "fast-and-new", nil })
	require.NoError(t, err)
	assert.Equal(t, "fast-and-new", v)

	close(release)
	assert.Equal(t, "slow-and-old", <-slowDone)

	cached, _ := Peek[string](c, key)
	assert.Equal(t, "fast-and-new", cached)
}

func TestCancelDropsLateResponse(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	key := NewKey(Products, "search", "lam")
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = Fetch(context.Background(), c, key, func(context.Context) (string, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()
	<-started
	c.Cancel(NewKey(Products, "search"))
	close(release)
	<-done

	_, st := Peek[string](c, key)
	assert.False(t, st.HasValue)
}

func TestCallerCancellationDoesNotAbortSharedLoad(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	key := NewKey(Product, "p2")
	release := make(chan struct{})
	started := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, c, key, func(loadCtx context.Context) (string, error) {
			close(started)
			<-release
			return "landed", loadCtx.Err()
		})
		errCh <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		v, _ := Peek[string](c, key)
		return v == "landed"
	}, time.Second, 10*time.Millisecond)
}

func TestSetAndRemove(t *testing.T) {
	c := newTestCache(newFakeClock(), time.Hour)
	key := NewKey(Order, "o-9")
	Set(c, key, "pushed")

	var calls atomic.Int32
	v, err := Fetch(context.Background(), c, key, countingLoader(&calls, "fetched"))
	require.NoError(t, err)
	assert.Equal(t, "pushed", v)
	assert.Equal(t, int32(0), calls.Load())

	c.Remove(NewKey(Order))
	assert.Equal(t, 0, c.Len())
}
