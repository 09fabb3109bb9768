package workerpool

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrLimitViolation means more tasks were observed running than the
// configured limit allows. It signals a bug in the pool itself, never a
// caller mistake, and fails the whole run.
var ErrLimitViolation = errors.New("workerpool: concurrency limit exceeded")

// RunAll executes run(i) for every i in [0,n) with at most limit tasks
// in flight at once. It returns the first task error, after all started
// tasks have finished. Cancelling ctx stops unstarted tasks from being
// issued; in-flight tasks run to completion unless they observe ctx
// themselves. A limit below 1 runs sequentially.
func RunAll(ctx context.Context, n, limit int, run func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	var running int32

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			if c := atomic.AddInt32(&running, 1); int(c) > limit {
				atomic.AddInt32(&running, -1)
				log.Printf("[WorkerPool] invariant breached: %d tasks running with limit %d", c, limit)
				return ErrLimitViolation
			}
			defer atomic.AddInt32(&running, -1)

			return run(gctx, i)
		})
	}

	return g.Wait()
}
