package workerpool

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ThreadPool runs N goroutines sharing process memory, each draining the
// Processor's queue until it closes or the context is cancelled. Shared
// state (the Site Model and the queue itself) is guarded by their own
// mutexes; no lock is held here. Lifecycle is managed with
// golang.org/x/sync/errgroup, so the first unrecoverable worker error
// cancels the group and propagates to Run's caller.
type ThreadPool struct {
	Workers   int
	Processor *Processor
}

func (t *ThreadPool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	items := t.Processor.Queue.Items()

	for i := 0; i < t.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case item, ok := <-items:
					if !ok {
						return nil
					}
					t.Processor.ProcessItem(gctx, item)
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *ThreadPool) Close() error { return nil }
