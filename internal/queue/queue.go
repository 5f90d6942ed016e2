// Package queue implements the crawl engine's work queue and its admission
// policy: a URL is looked up (or created) in the Site Model and, if new,
// classified and either skipped, recorded as skipped, or pushed onto the
// FIFO channel of pending work — exactly once, even under concurrent
// discovery from multiple workers.
package queue

import (
	"sync"

	"github.com/hatchworks/hatchcrawl/internal/canon"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// WorkItem is one unit of pending work: a URL to fetch at a given depth,
// with the admission decision already made (so the worker knows whether to
// follow any links it finds).
type WorkItem struct {
	CanonicalURL   canon.CanonicalUrl
	Depth          int
	OriginatingRef *sitemodel.PageRef
	Admission      canon.AdmissionKind
}

// Queue ties the Site Model (the dedup index) to a buffered Go channel (the
// FIFO). MaxDepth and Policy are immutable for the lifetime of one crawl.
type Queue struct {
	site     *sitemodel.SiteModel
	items    chan WorkItem
	maxDepth int
	policy   canon.Policy

	// outstanding counts items pushed onto the channel but not yet Done
	// (Add before send, Done after full processing): the coordinator's
	// termination protocol waits on this instead of polling queue length,
	// which avoids the race window between a worker dequeuing an item and
	// marking it in-flight.
	outstanding sync.WaitGroup
}

// New creates a Queue with the given buffer size. A generous buffer keeps
// workers that discover many links on a single page on the fast synchronous
// push path.
func New(site *sitemodel.SiteModel, bufferSize, maxDepth int, policy canon.Policy) *Queue {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Queue{
		site:     site,
		items:    make(chan WorkItem, bufferSize),
		maxDepth: maxDepth,
		policy:   policy,
	}
}

// Items exposes the receive side of the FIFO for the worker pool.
func (q *Queue) Items() <-chan WorkItem {
	return q.items
}

// Close closes the FIFO; callers must only do so once no further Admit
// calls can occur (the coordinator enforces this via its busy-count
// termination protocol).
func (q *Queue) Close() {
	close(q.items)
}

// Admit looks url up in the Site Model and, when new, either records it as
// skipped or pushes it onto the FIFO exactly once: get-or-create is atomic
// with respect to the depth/classification decision because the
// Site Model's own mutex covers GetOrCreate, and nothing between GetOrCreate
// and the subsequent SetStatus/push can interleave with another goroutine's
// admission of the same URL — a second admit call for the same URL always
// observes wasNew=false and returns immediately.
func (q *Queue) Admit(url canon.CanonicalUrl, depth int, origin *sitemodel.PageRef) {
	_, wasNew := q.site.GetOrCreate(url, depth, origin)
	if !wasNew {
		return
	}

	if depth > q.maxDepth {
		q.site.SetStatus(url, sitemodel.StatusSkippedByPolicy(canon.DepthExceeded), nil)
		return
	}

	adm := canon.Classify(url, q.policy)
	if adm.Kind == canon.Skip {
		q.site.SetStatus(url, sitemodel.StatusSkippedByPolicy(adm.Reason), nil)
		return
	}

	q.outstanding.Add(1)
	q.push(WorkItem{CanonicalURL: url, Depth: depth, OriginatingRef: origin, Admission: adm.Kind})
}

// push enqueues without ever blocking the caller. Admission runs on the same
// goroutines that drain the channel (a thread-backend worker deep in
// parseAndAdmit, the cooperative backend's single owning goroutine, the
// process backend's replay path), so a blocking send on a full buffer could
// stall every drainer at once. Overflow items are handed off to a goroutine
// instead; the closer never shuts the channel while one is pending because
// the item's outstanding count was already bumped. Strict FIFO order is not
// part of the queue's contract beyond "start URLs are admitted first".
func (q *Queue) push(item WorkItem) {
	select {
	case q.items <- item:
	default:
		go func() { q.items <- item }()
	}
}

// Seed marks one item as outstanding without pushing it through the FIFO.
// The process backend's disposable per-job queue uses this: it runs
// Processor.ProcessItem directly on a job already claimed by the
// coordinator's real queue, so the job itself never goes through Admit, but
// ProcessItem still ends with a matching Done call that Seed balances.
func (q *Queue) Seed() { q.outstanding.Add(1) }

// Done marks one dequeued WorkItem as fully processed, including any further
// Admit calls it triggered. A worker backend calls this exactly once per item
// received from Items(), after the item's result (and any refs it admitted)
// has been recorded. Wait returns only once every item ever pushed has had a
// matching Done call, so an Admit made while processing item N is always
// counted before N's own Done — the ordering that makes the busy-count
// termination check race-free.
func (q *Queue) Done() { q.outstanding.Done() }

// Wait blocks until every admitted item has a matching Done call, i.e. the
// queue is both empty and no worker is still processing the item that might
// discover more work. The coordinator calls this from its own goroutine and
// closes the queue once it returns.
func (q *Queue) Wait() { q.outstanding.Wait() }

// AdmitInvalid records a syntactically invalid reference directly as a Page
// with status InvalidUrl, bypassing the queue entirely. The status is only
// applied on first insertion (InvalidUrl may only be set then); later
// occurrences of the same bad link still record their originating edge.
func (q *Queue) AdmitInvalid(url canon.CanonicalUrl, detail string, origin *sitemodel.PageRef) {
	_, wasNew := q.site.GetOrCreate(url, 0, origin)
	if wasNew {
		q.site.SetStatus(url, sitemodel.StatusInvalidUrl(detail), nil)
	}
}

// MaxDepth returns the configured maximum crawl depth.
func (q *Queue) MaxDepth() int { return q.maxDepth }

// Policy returns the configured admission policy.
func (q *Queue) Policy() canon.Policy { return q.policy }
