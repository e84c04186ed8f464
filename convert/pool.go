package convert

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// window returns the number of indices allowed between dispatch and collection.
func window(workers int) int {
	return 2 * workers
}

type indexed[T any] struct {
	index int
	value T
}

// orderedMap runs fn for indices [0,n) on up to workers goroutines and hands each
// result to collect in index order, whatever order the workers finish in.  At most
// window(workers) indices are dispatched but not yet collected, which bounds the
// results held behind a slow index.  The first error from fn or collect
// cancels the remaining work and is returned.
func orderedMap[T any](ctx context.Context, n, workers int, fn func(ctx context.Context, i int) (T, error), collect func(i int, v T) error) error {
	if workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := fn(ctx, i)
			if err != nil {
				return err
			}
			if err := collect(i, v); err != nil {
				return err
			}
		}
		return nil
	}
	if workers > n {
		workers = n
	}

	g, gctx := errgroup.WithContext(ctx)
	inFlight := semaphore.NewWeighted(int64(window(workers)))
	indices := make(chan int, workers)
	results := make(chan indexed[T], workers*2)

	// Producer
	g.Go(func() error {
		defer close(indices)
		for i := 0; i < n; i++ {
			if err := inFlight.Acquire(gctx, 1); err != nil {
				return err
			}
			select {
			case indices <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range indices {
				v, err := fn(gctx, i)
				if err != nil {
					return err
				}
				select {
				case results <- indexed[T]{i, v}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	// Collector reorders by index.
	g.Go(func() error {
		pending := make(map[int]T)
		next := 0
		for next < n {
			select {
			case r := <-results:
				pending[r.index] = r.value
				for {
					v, found := pending[next]
					if !found {
						break
					}
					delete(pending, next)
					if err := collect(next, v); err != nil {
						return err
					}
					inFlight.Release(1)
					next++
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}
