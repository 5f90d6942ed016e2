package workerpool

import (
	"context"
	"runtime"

	"github.com/hatchworks/hatchcrawl/internal/fetch"
	"github.com/hatchworks/hatchcrawl/internal/queue"
)

// CooperativePool runs a single coordinating goroutine, pinned to its own
// OS thread, multiplexing M logical tasks over the queue. Every mutation of
// the Site Model and the queue happens on that one goroutine; the HTTP
// round trips it dispatches run on ordinary goroutines (Go has no
// user-level non-blocking socket API), but those goroutines never touch
// shared state directly — they report back over a channel that only the
// owning goroutine drains. Outstanding fetches are bounded by the loop's
// own in-flight count: the single owner is the only dispatcher, so a plain
// counter needs no synchronization primitive around it.
type CooperativePool struct {
	Processor     *Processor
	MaxConcurrent int64
}

type fetchCompletion struct {
	item queue.WorkItem
	res  fetch.Result
}

func (c *CooperativePool) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	maxConcurrent := int(c.MaxConcurrent)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	items := c.Processor.Queue.Items()
	completions := make(chan fetchCompletion, maxConcurrent)
	inFlight := 0

	for {
		if items == nil && inFlight == 0 {
			return nil
		}

		// Only offer the items case while a slot is free: anything that
		// waited for capacity inside the case body would block this single
		// goroutine before it could reach the completions case below that
		// frees a slot, deadlocking the whole pool at full concurrency.
		readyItems := items
		if inFlight >= maxConcurrent {
			readyItems = nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case done := <-completions:
			inFlight--
			c.Processor.Apply(done.item, done.res)

		case item, ok := <-readyItems:
			if !ok {
				items = nil
				continue
			}
			inFlight++
			c.Processor.MarkInFlight(item)
			go func(it queue.WorkItem) {
				res := c.Processor.Fetch(ctx, it)
				completions <- fetchCompletion{item: it, res: res}
			}(item)
		}
	}
}

func (c *CooperativePool) Close() error { return nil }
