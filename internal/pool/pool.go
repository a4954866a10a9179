// Package pool bounds concurrent background work with a weighted semaphore.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent work. Training runs, serial chores and augmentation
// chunks each get their own Pool.
type Pool struct {
	name  string
	limit int
	sem   *semaphore.Weighted
}

// New creates a Pool that allows at most limit concurrent jobs.
// A limit of 0 or less means uncapped.
func New(name string, limit int) *Pool {
	p := &Pool{name: name, limit: limit}
	if limit > 0 {
		p.sem = semaphore.NewWeighted(int64(limit))
	}
	return p
}

// Name returns the pool name used in logs and metrics.
func (p *Pool) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Limit returns the concurrency limit, 0 for uncapped.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return max(p.limit, 0)
}

// Acquire blocks until a slot is free. The returned release must be called
// exactly once. Returns ctx.Err() if the context is cancelled while waiting.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if p == nil || p.sem == nil {
		return func() {}, nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}

// Run acquires a slot, runs fn, and releases the slot.
// If the pool is nil or uncapped, fn is executed directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Each runs fn(i) for i in [0, n) on the pool and waits for all of them.
// The first error cancels the context passed to the remaining calls.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			return p.Run(gctx, func() error { return fn(gctx, i) })
		})
	}
	return g.Wait()
}
