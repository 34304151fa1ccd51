// Package fetch runs independent retrievals concurrently through a
// bounded worker pool. Results come back in input order with per-item
// success or failure, so one bad item never fails the batch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks an item whose per-request deadline elapsed before its
// retrieval completed.
var ErrTimeout = errors.New("request timed out")

// Kind names the type of item being fetched.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindBody         Kind = "body"
	KindAttachments  Kind = "attachments"
)

// Request identifies one item to retrieve.
type Request struct {
	ID   string
	Kind Kind
}

// Result pairs a request with its outcome. Exactly one of Value and Err
// is meaningful.
type Result[V any] struct {
	Request Request
	Value   V
	Err     error
}

// OK reports whether the item was retrieved successfully.
func (r Result[V]) OK() bool {
	return r.Err == nil
}

// Options bounds the pool.
type Options struct {
	// MaxParallel caps in-flight retrievals. Values below one fall back
	// to DefaultMaxParallel.
	MaxParallel int

	// PerRequestTimeout bounds each item individually. Zero disables the
	// per-item deadline; the parent context still applies.
	PerRequestTimeout time.Duration
}

// DefaultMaxParallel is the pool width when none is configured.
const DefaultMaxParallel = 5

// All retrieves every request through fn with at most opts.MaxParallel
// in flight. The returned slice has the same length and order as reqs.
// Item failures are recorded in the corresponding Result; All itself
// returns an error only when ctx is cancelled before work is handed out.
func All[V any](ctx context.Context, reqs []Request, opts Options, fn func(ctx context.Context, req Request) (V, error)) ([]Result[V], error) {
	width := opts.MaxParallel
	if width < 1 {
		width = DefaultMaxParallel
	}

	results := make([]Result[V], len(reqs))
	sem := make(chan struct{}, width)
	done := make(chan int, len(reqs))

	for i, req := range reqs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		go func(i int, req Request) {
			defer func() { <-sem; done <- i }()
			results[i] = runOne(ctx, req, opts.PerRequestTimeout, fn)
		}(i, req)
	}

	for range reqs {
		<-done
	}
	return results, nil
}

func runOne[V any](ctx context.Context, req Request, timeout time.Duration, fn func(ctx context.Context, req Request) (V, error)) Result[V] {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	value, err := fn(reqCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%s %s: %w", req.Kind, req.ID, ErrTimeout)
		}
		return Result[V]{Request: req, Err: err}
	}
	return Result[V]{Request: req, Value: value}
}
