package workerpool

import "context"

// Pool is the contract every concurrency backend satisfies: it drains the
// Processor's queue until the context is cancelled or the queue closes, and
// reports the first unrecoverable error, if any.
type Pool interface {
	Run(ctx context.Context) error
	Close() error
}
