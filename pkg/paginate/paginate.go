// Package paginate walks cursor-paginated API collections.
//
// A walk fetches one page at a time, strictly in sequence. Before every page
// after the first it sleeps for a random duration so consecutive requests do
// not arrive at a fixed cadence. The stream ends when the server returns an
// empty page or no next cursor. A walk is resumed by starting it again from
// the last cursor the caller persisted.
package paginate

import (
	"context"
	"iter"
	"math/rand/v2"
	"time"

	"bskyarchive/pkg/logger"
)

// Page is one response of a paginated collection
type Page[T any] struct {
	Records []T
	// Cursor is the token for the next page; empty means end of stream.
	Cursor string
}

// FetchFunc retrieves the page starting at cursor. An empty cursor asks for
// the first page.
type FetchFunc[T any] func(ctx context.Context, cursor string, limit int) (Page[T], error)

// Options controls a walk
type Options struct {
	// StartCursor resumes a previous walk; empty starts at the head.
	StartCursor string
	Limit       int
	MinDelay    time.Duration
	MaxDelay    time.Duration

	// Sleep waits between pages. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter picks a delay in [min, max]. Defaults to a uniform draw.
	Jitter func(min, max time.Duration) time.Duration
	Logger logger.Logger
}

// Result summarizes a finished or aborted walk
type Result struct {
	Pages   int
	Records int
	// Cursor is the last cursor returned by the server, or the start cursor
	// when no page was fetched. It is empty once the stream is exhausted.
	Cursor    string
	Exhausted bool
}

func (o *Options) defaults() {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Jitter == nil {
		o.Jitter = uniform
	}
	if o.Logger == nil {
		o.Logger = logger.NewNopLogger()
	}
}

// Pages returns a lazy sequence of non-empty pages. A fetch error is yielded
// once as the final element.
func Pages[T any](ctx context.Context, fetch FetchFunc[T], opts Options) iter.Seq2[Page[T], error] {
	opts.defaults()

	return func(yield func(Page[T], error) bool) {
		cursor := opts.StartCursor

		for n := 0; ; n++ {
			if n > 0 {
				delay := opts.Jitter(opts.MinDelay, opts.MaxDelay)
				if err := opts.Sleep(ctx, delay); err != nil {
					yield(Page[T]{}, err)
					return
				}
			}

			page, err := fetch(ctx, cursor, opts.Limit)
			if err != nil {
				yield(Page[T]{}, err)
				return
			}
			if len(page.Records) == 0 {
				return
			}

			opts.Logger.DebugWithFields("page fetched", map[string]interface{}{
				"page":        n + 1,
				"records":     len(page.Records),
				"cursor_from": cursor,
				"cursor_to":   page.Cursor,
			})

			if !yield(page, nil) {
				return
			}
			if page.Cursor == "" {
				return
			}
			cursor = page.Cursor
		}
	}
}

// Walk drives Pages, handing each page to visit. It stops at the first
// fetch or visit error and returns it with the progress made so far.
func Walk[T any](ctx context.Context, fetch FetchFunc[T], opts Options, visit func(Page[T]) error) (Result, error) {
	res := Result{Cursor: opts.StartCursor}

	for page, err := range Pages(ctx, fetch, opts) {
		if err != nil {
			return res, err
		}
		if err := visit(page); err != nil {
			return res, err
		}
		res.Pages++
		res.Records += len(page.Records)
		res.Cursor = page.Cursor
	}

	// Pages ends without an error only on an empty page or an absent cursor.
	res.Exhausted = true
	res.Cursor = ""
	return res, nil
}

// Collect walks the whole stream and returns every record in order.
func Collect[T any](ctx context.Context, fetch FetchFunc[T], opts Options) ([]T, Result, error) {
	var all []T
	res, err := Walk(ctx, fetch, opts, func(p Page[T]) error {
		all = append(all, p.Records...)
		return nil
	})
	return all, res, err
}

func uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
