// Package worker implements the bounded worker pool and stage barrier from
// the concurrency model (§5): each of Reflo, Recontex, and Restruc pulls
// work items from a pool sized to hardware concurrency by default, and a
// stage only begins once every worker of the previous stage has joined.
package worker

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of in-flight workers via a counting semaphore,
// per §5's "suspension points: (i) a counting semaphore limiting in-flight
// workers".
type Pool struct {
	capacity int
	sem      *semaphore.Weighted
}

// New builds a Pool with the given capacity, defaulting to
// runtime.NumCPU() when capacity <= 0.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = runtime.NumCPU()
	}
	return &Pool{capacity: capacity, sem: semaphore.NewWeighted(int64(capacity))}
}

// Capacity returns the pool's configured worker limit.
func (p *Pool) Capacity() int { return p.capacity }

// RunStage runs fn over every item in items, bounded by the pool's
// capacity, and blocks until all items have completed — the "stage begins
// only after all workers of the previous stage have joined" barrier.
// The first error from any fn call cancels the remaining work and is
// returned.
func RunStage[T any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		if err := p.sem.Acquire(gctx, 1); err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return fn(gctx, item)
		})
	}
	return g.Wait()
}

// RunWorklist drains a dynamically growing queue of items, seeded with
// seed: fn may call the enqueue callback it's given to add further items
// (e.g. Reflo discovering a new call target while analyzing a function),
// and those items are picked up by the same bounded pool of workers. A
// given item (by comparable identity) is only ever processed once. The
// call blocks until the queue is fully drained and every worker has
// returned.
func RunWorklist[T comparable](ctx context.Context, p *Pool, seed []T, fn func(context.Context, T, func(T)) error) error {
	var (
		mu      sync.Mutex
		cond    = sync.NewCond(&mu)
		pending []T
		seen    = make(map[T]bool)
		active  int
		firstErr error
		stopped bool
	)

	enqueue := func(item T) {
		mu.Lock()
		defer mu.Unlock()
		if seen[item] || stopped {
			return
		}
		seen[item] = true
		pending = append(pending, item)
		cond.Signal()
	}
	for _, s := range seed {
		enqueue(s)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.capacity; i++ {
		g.Go(func() error {
			for {
				mu.Lock()
				for len(pending) == 0 && active > 0 && !stopped {
					cond.Wait()
				}
				if stopped || (len(pending) == 0 && active == 0) {
					stopped = true
					cond.Broadcast()
					mu.Unlock()
					return nil
				}
				item := pending[0]
				pending = pending[1:]
				active++
				mu.Unlock()

				err := fn(gctx, item, enqueue)

				mu.Lock()
				active--
				if err != nil && firstErr == nil {
					firstErr = err
					stopped = true
				}
				cond.Broadcast()
				mu.Unlock()

				if stopped && err == nil {
					// Another worker's failure already asked everyone to
					// stop; this worker still finished its own item
					// cleanly, so it should exit too.
					return nil
				}
				if err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return firstErr
}
