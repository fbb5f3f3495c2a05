package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/internal/catalog"
	"example.com/storefront/internal/logging"
)

type manualTimer struct {
	f       func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := !m.stopped
	m.stopped = true
	return was
}

// manualScheduler queues debounced calls until the test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
	delays []time.Duration
}

func (s *manualScheduler) schedule(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{f: f}
	s.timers = append(s.timers, t)
	s.delays = append(s.delays, d)
	return t
}

// fireAll runs every timer that has not been stopped, including stale ones
// whose Stop raced with expiry.
func (s *manualScheduler) fireAll(includeStopped bool) {
	s.mu.Lock()
	timers := append([]*manualTimer(nil), s.timers...)
	s.timers = nil
	s.mu.Unlock()
	for _, t := range timers {
		if includeStopped || !t.stopped {
			t.f()
		}
	}
}

func products(n int) []catalog.Product {
	out := make([]catalog.Product, n)
	for i := range out {
		out[i] = catalog.Product{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Lamp %d", i)}
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func newTestAutocomplete(fn SearchFunc) (*Autocomplete, *manualScheduler, *recorder) {
	sched := &manualScheduler{}
	rec := &recorder{}
	a := New(fn,
		WithScheduler(sched.schedule),
		WithDebounce(250*time.Millisecond),
		WithListener(rec.listen),
		WithLogger(logging.Discard()),
	)
	return a, sched, rec
}

func TestShortTermsNeverSearch(t *testing.T) {
	calls := 0
	a, sched, rec := newTestAutocomplete(func(context.Context, string) (Result, error) {
		calls++
		return Result{}, nil
	})
	a.Input("l")
	a.Input("la")
	a.Input("  la  ")
	sched.fireAll(false)

	assert.Equal(t, 0, calls)
	assert.Equal(t, StateIdle, a.Snapshot().State)
	assert.Equal(t, []State{StateTyping, StateIdle, StateTyping, StateIdle, StateTyping, StateIdle}, rec.states)
	assert.False(t, Enabled("ab"))
	assert.True(t, Enabled("abc"))
}

func TestDebounceSendsOnlyLastTerm(t *testing.T) {
	var terms []string
	a, sched, rec := newTestAutocomplete(func(_ context.Context, term string) (Result, error) {
		terms = append(terms, term)
		return Result{Products: products(8), Total: 8}, nil
	})

	a.Input("lam")
	a.Input("lamp")
	a.Input("lamp ")
	assert.Equal(t, StateWaiting, a.Snapshot().State)
	assert.Equal(t, 250*time.Millisecond, sched.delays[0])

	sched.fireAll(false)
	assert.Equal(t, []string{"lamp"}, terms)

	snap := a.Snapshot()
	assert.Equal(t, StateShowing, snap.State)
	assert.Len(t, snap.Suggestions, MaxSuggestions)
	assert.Equal(t, 8, snap.Total)
	assert.Equal(t, []State{
		StateTyping, StateWaiting,
		StateTyping, StateWaiting,
		StateTyping, StateWaiting,
		StateFetching, StateShowing,
	}, rec.states)
}

func TestStaleTimerIsIgnored(t *testing.T) {
	var terms []string
	a, sched, _ := newTestAutocomplete(func(_ context.Context, term string) (Result, error) {
		terms = append(terms, term)
		return Result{Products: products(1), Total: 1}, nil
	})
	a.Input("desk")
	a.Input("desks")
	sched.fireAll(true)

	assert.Equal(t, []string{"desks"}, terms)
}

func TestSupersededResponseIsDropped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	a, sched, _ := newTestAutocomplete(func(_ context.Context, term string) (Result, error) {
		started <- struct{}{}
		if term == "chai" {
			<-release
			return Result{Products: products(3), Total: 3}, nil
		}
		return Result{Products: products(1), Total: 1}, nil
	})

	a.Input("chai")
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.fireAll(false)
	}()
	<-started
	assert.Equal(t, StateFetching, a.Snapshot().State)

	a.Input("chair")
	sched.fireAll(false)
	snap := a.Snapshot()
	require.Equal(t, StateShowing, snap.State)
	assert.Equal(t, 1, snap.Total)

	close(release)
	<-done
	snap = a.Snapshot()
	assert.Equal(t, "chair", snap.Term)
	assert.Equal(t, 1, snap.Total, "late response for an older term must not replace results")
}

func TestDismissDropsInFlightResponse(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a, sched, _ := newTestAutocomplete(func(context.Context, string) (Result, error) {
		close(started)
		<-release
		return Result{Products: products(2), Total: 2}, nil
	})
	a.Input("sofa")
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.fireAll(false)
	}()
	<-started

	a.Dismiss()
	close(release)
	<-done

	snap := a.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Suggestions)
}

func TestSearchErrorReturnsToIdle(t *testing.T) {
	boom := errors.New("offline")
	a, sched, _ := newTestAutocomplete(func(context.Context, string) (Result, error) {
		return Result{}, boom
	})
	a.Input("table")
	sched.fireAll(false)

	snap := a.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.ErrorIs(t, snap.Err, boom)

	a.Input("tables")
	assert.NoError(t, a.Snapshot().Err)
}

func TestNoResultsIsIdle(t *testing.T) {
	a, sched, _ := newTestAutocomplete(func(context.Context, string) (Result, error) {
		return Result{}, nil
	})
	a.Input("zzzz")
	sched.fireAll(false)
	assert.Equal(t, StateIdle, a.Snapshot().State)
}

func TestRealSchedulerDebounces(t *testing.T) {
	got := make(chan string, 4)
	a := New(func(_ context.Context, term string) (Result, error) {
		got <- term
		return Result{Products: products(1), Total: 1}, nil
	}, WithDebounce(20*time.Millisecond), WithLogger(logging.Discard()))
	defer a.Close()

	a.Input("bed")
	a.Input("beds")
	select {
	case term := <-got:
		assert.Equal(t, "beds", term)
	case <-time.After(2 * time.Second):
		t.Fatal("search never ran")
	}
	require.Eventually(t, func() bool { return a.Snapshot().State == StateShowing }, time.Second, 5*time.Millisecond)
	assert.Len(t, got, 0)
}
