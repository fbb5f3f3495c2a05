// Package search implements debounced product autocomplete.
//
// Every keystroke bumps a liveness token. A debounced lookup or a search
// response that arrives under an older token is dropped, so only the
// latest input can ever reach the suggestion list, even when the underlying
// request cannot be cancelled.
package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"example.com/storefront/internal/catalog"
)

const (
	// MinTermLength is the shortest term that triggers a lookup; shorter
	// input is treated as no query.
	MinTermLength = 3
	// MaxSuggestions caps the suggestion list.
	MaxSuggestions = 5
	DefaultDebounce = 300 * time.Millisecond
)

type State string

const (
	StateIdle     State = "idle"
	StateTyping   State = "typing"
	StateWaiting  State = "waiting"
	StateFetching State = "fetching"
	StateShowing  State = "showing"
)

// Result is one search response.
type Result struct {
	Products []catalog.Product
	Total    int
}

// SearchFunc performs the lookup for a term.
type SearchFunc func(ctx context.Context, term string) (Result, error)

// Timer is a pending debounced call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. time.AfterFunc is the default.
type Scheduler func(d time.Duration, f func()) Timer

func realScheduler(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Snapshot is what a view renders.
type Snapshot struct {
	State       State
	Term        string
	Suggestions []catalog.Product
	Total       int
	Err         error
}

type Autocomplete struct {
	mu       sync.Mutex
	state    State
	term     string
	token    uint64
	timer    Timer
	result   Result
	err      error
	debounce time.Duration
	search   SearchFunc
	schedule Scheduler
	onChange func(Snapshot)
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

type Option func(*Autocomplete)

func WithDebounce(d time.Duration) Option {
	return func(a *Autocomplete) {
		a.debounce = d
	}
}

func WithScheduler(s Scheduler) Option {
	return func(a *Autocomplete) {
		a.schedule = s
	}
}

// WithListener is called after every state change, outside the lock.
func WithListener(fn func(Snapshot)) Option {
	return func(a *Autocomplete) {
		a.onChange = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Autocomplete) {
		a.logger = logger
	}
}

func New(search SearchFunc, opts ...Option) *Autocomplete {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Autocomplete{
		state:    StateIdle,
		debounce: DefaultDebounce,
		search:   search,
		schedule: realScheduler,
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether term is long enough to search.
func Enabled(term string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(term)) >= MinTermLength
}

// Input records a keystroke and restarts the debounce window. Listeners see
// Typing for the keystroke, then Waiting, or Idle when the term is too short.
func (a *Autocomplete) Input(term string) {
	a.mu.Lock()
	a.token++
	tok := a.token
	a.stopTimerLocked()
	a.term = term
	a.err = nil
	a.state = StateTyping
	typing := a.snapshotLocked()

	if !Enabled(term) {
		a.result = Result{}
		a.state = StateIdle
	} else {
		a.state = StateWaiting
		query := strings.TrimSpace(term)
		a.timer = a.schedule(a.debounce, func() { a.fire(tok, query) })
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.notify(typing)
	a.notify(snap)
}

func (a *Autocomplete) fire(tok uint64, term string) {
	a.mu.Lock()
	if tok != a.token {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.state = StateFetching
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.notify(snap)

	res, err := a.search(a.ctx, term)

	a.mu.Lock()
	if tok != a.token {
		a.mu.Unlock()
		a.logger.Debug("dropping superseded search response", "term", term)
		return
	}
	if err != nil {
		a.err = err
		a.result = Result{}
		a.state = StateIdle
		a.logger.Warn("search failed", "term", term, "error", err)
	} else {
		if len(res.Products) > MaxSuggestions {
			res.Products = res.Products[:MaxSuggestions]
		}
		a.result = res
		a.state = StateShowing
		if len(res.Products) == 0 {
			a.state = StateIdle
		}
	}
	snap = a.snapshotLocked()
	a.mu.Unlock()
	a.notify(snap)
}

// Dismiss hides suggestions and abandons any pending or running lookup.
func (a *Autocomplete) Dismiss() {
	a.mu.Lock()
	a.token++
	a.stopTimerLocked()
	a.result = Result{}
	a.err = nil
	a.state = StateIdle
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.notify(snap)
}

// Close dismisses and cancels the context handed to running searches.
func (a *Autocomplete) Close() {
	a.Dismiss()
	a.cancel()
}

func (a *Autocomplete) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Autocomplete) snapshotLocked() Snapshot {
	return Snapshot{
		State:       a.state,
		Term:        a.term,
		Suggestions: append([]catalog.Product(nil), a.result.Products...),
		Total:       a.result.Total,
		Err:         a.err,
	}
}

func (a *Autocomplete) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Autocomplete) notify(s Snapshot) {
	if a.onChange != nil {
		a.onChange(s)
	}
}
