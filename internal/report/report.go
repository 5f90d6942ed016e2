// Package report defines the pure-sink progress observer the worker pool
// pushes completed pages to; it never touches the Site Model itself.
package report

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hatchworks/hatchcrawl/internal/logging"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// Reporter is a pure sink interface: the worker pool calls OnPageDone once
// per processed work item (pages recorded without a fetch, such as policy
// skips, are not reported) and the coordinator calls OnIdle once when the
// crawl terminates.
type Reporter interface {
	OnPageDone(p sitemodel.Page)
	OnIdle()
}

// NopReporter discards everything; used when no reporter is configured.
type NopReporter struct{}

func (NopReporter) OnPageDone(sitemodel.Page) {}
func (NopReporter) OnIdle()                   {}

// TickerReporter accumulates counts and, on a time.Ticker interval, writes
// one structured log line via internal/logging. Safe for concurrent
// OnPageDone calls from multiple workers.
type TickerReporter struct {
	logger *logging.Logger

	mu        sync.Mutex
	done      int
	erroneous int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewTickerReporter starts a reporter that logs progress every interval
// until OnIdle is called. logger may be nil, in which case the package-level
// convenience logger is used (the CLI's single-crawl-per-process case).
func NewTickerReporter(logger *logging.Logger, interval time.Duration) *TickerReporter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	r := &TickerReporter{
		logger: logger,
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *TickerReporter) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ticker.C:
			r.logProgress()
		case <-r.stop:
			return
		}
	}
}

func (r *TickerReporter) logProgress() {
	r.mu.Lock()
	done, erroneous := r.done, r.erroneous
	r.mu.Unlock()

	fields := []zap.Field{zap.Int("pages_done", done), zap.Int("erroneous", erroneous)}
	if r.logger != nil {
		r.logger.Info("progress", fields...)
	} else {
		logging.Info("progress", fields...)
	}
}

// OnPageDone records one completed page.
func (r *TickerReporter) OnPageDone(p sitemodel.Page) {
	r.mu.Lock()
	r.done++
	if p.Erroneous {
		r.erroneous++
	}
	r.mu.Unlock()
}

// OnIdle logs a final summary and stops the ticker goroutine.
func (r *TickerReporter) OnIdle() {
	r.logProgress()
	close(r.stop)
	r.wg.Wait()
	r.ticker.Stop()
}
