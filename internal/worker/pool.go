// Package worker provides a generic bounded fan-out pool. The runner uses it
// to execute selected tests in parallel, each under its own guard.
package worker

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Result pairs a processed value with its original index to preserve ordering.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Pool fans out work items to at most concurrency goroutines and collects
// results preserving the original input order.
type Pool[I, T any] struct {
	concurrency int
}

// NewPool creates a worker pool with the given concurrency.
// If concurrency <= 0, defaults to runtime.NumCPU().
func NewPool[I, T any](concurrency int) *Pool[I, T] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[I, T]{concurrency: concurrency}
}

// Concurrency is the maximum number of items processed at once.
func (p *Pool[I, T]) Concurrency() int { return p.concurrency }

// Process applies fn to each item and returns results in input order.
// Errors from individual items are captured per-result rather than aborting
// the batch. Items not yet started when ctx is done are not run; their
// result carries ctx's error.
func (p *Pool[I, T]) Process(ctx context.Context, items []I, fn func(context.Context, I) (T, error)) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]Result[T], len(items))
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)

	for i, item := range items {
		results[i].Index = i
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			val, err := fn(ctx, item)
			results[i].Value = val
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	return results
}
