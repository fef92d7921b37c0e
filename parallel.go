package unblending

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// bandsPerWorker oversubscribes the bands so that slow rows (many infeasible
// candidates) do not leave workers idle at the end of a stage.
const bandsPerWorker = 4

func workerCount(workers int) int {
	if workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return workers
}

// parallelRange splits [0, n) into disjoint bands and runs fn on each, at most
// workers at a time. The first error, or the cancellation of ctx, stops bands
// that have not started yet and is returned after the running ones finish.
// fn must only write to indices inside its own band.
func parallelRange(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	workers = workerCount(workers)
	if workers == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(0, n)
	}
	bands := min(n, workers*bandsPerWorker)
	size := (n + bands - 1) / bands

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}
