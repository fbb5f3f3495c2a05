package querycache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoMorePages is returned when an infinite query has loaded its last
	// page, or a cursor points past the last page the server reported.
	ErrNoMorePages = errors.New("querycache: no more pages")
	// ErrPageOutOfOrder is returned for a cursor that skips pages.
	ErrPageOutOfOrder = errors.New("querycache: page requested out of order")
)

// PageInfo is the pagination metadata the server reported for one page.
type PageInfo struct {
	Page       int
	TotalPages int
	Total      int
}

// Cursor points at the next page to load. A Done cursor is the explicit
// terminal state; there is no page after it.
type Cursor struct {
	Page int
	Done bool
}

// Start is the cursor of a fresh infinite query.
func Start() Cursor {
	return Cursor{Page: 1}
}

func nextCursor(info PageInfo) Cursor {
	if info.Page < info.TotalPages {
		return Cursor{Page: info.Page + 1}
	}
	return Cursor{Done: true}
}

// PageLoader fetches one page of an infinite query.
type PageLoader[T any] func(ctx context.Context, page int) (T, PageInfo, error)

// Pages is the accumulated state of an infinite query.
type Pages[T any] struct {
	Pages []T
	Infos []PageInfo
	Next  Cursor
}

// HasMore reports whether another page can be requested.
func (p Pages[T]) HasMore() bool {
	return !p.Next.Done
}

// Total is the server-reported item count from the latest page.
func (p Pages[T]) Total() int {
	if len(p.Infos) == 0 {
		return 0
	}
	return p.Infos[len(p.Infos)-1].Total
}

func pagesFromEntry[T any](e *entry) (Pages[T], bool) {
	out := Pages[T]{Next: e.next, Infos: append([]PageInfo(nil), e.infos...)}
	for _, p := range e.pages {
		v, ok := p.(T)
		if !ok {
			return Pages[T]{}, false
		}
		out.Pages = append(out.Pages, v)
	}
	return out, true
}

// FetchPages returns the loaded pages of an infinite query, loading the
// first page when none are cached or the query was invalidated. Pages older
// than the stale time are served while page one reloads in the background,
// which restarts the sequence.
func FetchPages[T any](ctx context.Context, c *Cache, key Key, load PageLoader[T], opts ...FetchOption) (Pages[T], error) {
	o := c.fetchOptions(opts)

	c.mu.Lock()
	e := c.entryLocked(key)
	gen := e.gen
	if len(e.pages) > 0 && !e.invalidated {
		if cached, ok := pagesFromEntry[T](e); ok {
			fresh := c.freshLocked(e, o.staleTime)
			c.mu.Unlock()
			if !fresh {
				ch := c.flights.DoChan(flightKey(key, gen, "#page=1"), func() (any, error) {
					return c.runPage(ctx, key, gen, 1, anyPageLoader(load))
				})
				c.bg.Add(1)
				go func() {
					defer c.bg.Done()
					if res := <-ch; res.Err != nil {
						c.logger.Warn("background page refresh failed", "cache_key", key.Display(), "error", res.Err)
					}
				}()
			}
			return cached, nil
		}
	}
	c.mu.Unlock()

	return awaitPage(ctx, c, key, gen, 1, load)
}

// FetchPage loads the page cursor points at and appends it. A Done cursor
// yields ErrNoMorePages without any request, as does a cursor past the last
// page the server reported. A cursor for a page that is already loaded
// returns the cached pages, so a repeated "load more" does not append twice.
// Pages load strictly in order: a cursor ahead of the next page fails with
// ErrPageOutOfOrder. Start behaves like FetchPages.
func FetchPage[T any](ctx context.Context, c *Cache, key Key, cursor Cursor, load PageLoader[T], opts ...FetchOption) (Pages[T], error) {
	if cursor.Done {
		c.mu.Lock()
		defer c.mu.Unlock()
		cached, _ := pagesFromEntry[T](c.entryLocked(key))
		return cached, ErrNoMorePages
	}
	if cursor.Page <= 1 {
		return FetchPages(ctx, c, key, load, opts...)
	}

	c.mu.Lock()
	e := c.entryLocked(key)
	if len(e.pages) == 0 || e.invalidated {
		c.mu.Unlock()
		return FetchPages(ctx, c, key, load, opts...)
	}
	cached, ok := pagesFromEntry[T](e)
	if !ok {
		c.mu.Unlock()
		return Pages[T]{}, fmt.Errorf("query %s: cached pages have a different type", key.Display())
	}
	if e.next.Done {
		c.mu.Unlock()
		return cached, ErrNoMorePages
	}
	if n := len(e.infos); n > 0 && cursor.Page > e.infos[n-1].TotalPages {
		c.mu.Unlock()
		return cached, ErrNoMorePages
	}
	if cursor.Page < e.next.Page {
		c.mu.Unlock()
		return cached, nil
	}
	if cursor.Page > e.next.Page {
		next := e.next.Page
		c.mu.Unlock()
		return cached, fmt.Errorf("query %s: page %d before page %d: %w", key.Display(), cursor.Page, next, ErrPageOutOfOrder)
	}
	page, gen := e.next.Page, e.gen
	c.mu.Unlock()

	return awaitPage(ctx, c, key, gen, page, load)
}

// FetchNextPage continues an infinite query from its stored cursor.
func FetchNextPage[T any](ctx context.Context, c *Cache, key Key, load PageLoader[T], opts ...FetchOption) (Pages[T], error) {
	c.mu.Lock()
	cursor := c.entryLocked(key).next
	c.mu.Unlock()
	return FetchPage(ctx, c, key, cursor, load, opts...)
}

type pageResult struct {
	value any
	info  PageInfo
}

func anyPageLoader[T any](load PageLoader[T]) func(context.Context, int) (any, PageInfo, error) {
	return func(ctx context.Context, page int) (any, PageInfo, error) {
		return load(ctx, page)
	}
}

func awaitPage[T any](ctx context.Context, c *Cache, key Key, gen uint64, page int, load PageLoader[T]) (Pages[T], error) {
	ch := c.flights.DoChan(flightKey(key, gen, fmt.Sprintf("#page=%d", page)), func() (any, error) {
		return c.runPage(ctx, key, gen, page, anyPageLoader(load))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Pages[T]{}, res.Err
		}
	case <-ctx.Done():
		return Pages[T]{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return Pages[T]{}, fmt.Errorf("query %s: removed while loading", key.Display())
	}
	out, ok := pagesFromEntry[T](e)
	if !ok {
		return Pages[T]{}, fmt.Errorf("query %s: cached pages have a different type", key.Display())
	}
	if out.Next.Done && page > 1 && len(out.Infos) > 0 && out.Infos[len(out.Infos)-1].Page < page {
		return out, ErrNoMorePages
	}
	return out, nil
}

// runPage loads one page and applies it if the entry is still on generation
// gen and still expects that page. Page one replaces the sequence; later
// pages append. A page past the server's last page is not appended and ends
// the sequence.
func (c *Cache) runPage(ctx context.Context, key Key, gen uint64, page int, load func(context.Context, int) (any, PageInfo, error)) (any, error) {
	v, info, err := load(context.WithoutCancel(ctx), page)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.gen != gen || (page > 1 && (e.next.Done || e.next.Page != page)) {
		c.logger.Debug("discarding superseded page", "cache_key", key.Display(), "page", page, "generation", gen)
		if err != nil {
			return nil, err
		}
		return pageResult{value: v, info: info}, nil
	}
	if err != nil {
		e.lastErr = err
		return nil, err
	}

	if info.Page == 0 {
		info.Page = page
	}
	if page == 1 {
		e.pages = nil
		e.infos = nil
	}
	if info.Page <= info.TotalPages || page == 1 {
		e.pages = append(e.pages, v)
		e.infos = append(e.infos, info)
	}
	e.next = nextCursor(info)
	e.updatedAt = c.now()
	e.invalidated = false
	e.lastErr = nil
	return pageResult{value: v, info: info}, nil
}
