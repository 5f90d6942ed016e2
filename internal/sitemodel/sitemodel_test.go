package sitemodel

import (
	"sync"
	"testing"

	"github.com/hatchworks/hatchcrawl/internal/canon"
)

func mustCanon(t *testing.T, raw string) canon.CanonicalUrl {
	t.Helper()
	u, err := canon.Canonicalize(raw, nil)
	if err != nil {
		t.Fatalf("canonicalize(%q): %v", raw, err)
	}
	return u
}

func TestGetOrCreate_FirstInsertIsPending(t *testing.T) {
	s := New()
	u := mustCanon(t, "http://example.com/")

	page, wasNew := s.GetOrCreate(u, 0, nil)
	if !wasNew {
		t.Fatal("expected wasNew=true on first insert")
	}
	if page.Status.Kind != Pending {
		t.Errorf("status = %v, want Pending", page.Status.Kind)
	}
	if page.Depth != 0 {
		t.Errorf("depth = %d, want 0", page.Depth)
	}
}

func TestGetOrCreate_SecondCallUpdatesDepthAndIncoming(t *testing.T) {
	s := New()
	u := mustCanon(t, "http://example.com/shared")
	src := mustCanon(t, "http://example.com/a")

	s.GetOrCreate(u, 3, nil)

	ref := PageRef{CanonicalURL: u, SourceURL: src, Depth: 1}
	page, wasNew := s.GetOrCreate(u, 1, &ref)
	if wasNew {
		t.Fatal("expected wasNew=false on second insert")
	}
	if page.Depth != 1 {
		t.Errorf("depth = %d, want 1 (min of 3 and 1)", page.Depth)
	}
	if len(page.IncomingRefs) != 1 {
		t.Fatalf("incoming refs = %d, want 1", len(page.IncomingRefs))
	}
}

func TestGetOrCreate_ConcurrentDedup(t *testing.T) {
	s := New()
	u := mustCanon(t, "http://example.com/shared")

	var wg sync.WaitGroup
	newCount := 0
	var mu sync.Mutex

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, wasNew := s.GetOrCreate(u, 0, nil)
			if wasNew {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if newCount != 1 {
		t.Errorf("newCount = %d, want exactly 1 across concurrent GetOrCreate calls", newCount)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSetStatus_ErroneousFlag(t *testing.T) {
	s := New()
	u := mustCanon(t, "http://example.com/missing")
	s.GetOrCreate(u, 0, nil)

	s.SetStatus(u, StatusHttpError(404), &ResponseMeta{HTTPStatus: 404})

	page := s.Get(u)
	if !page.Erroneous {
		t.Error("HttpError page should be erroneous")
	}

	s.SetStatus(u, StatusSkippedByPolicy(canon.OutsideScope), nil)
	if s.Get(u).Erroneous {
		t.Error("SkippedByPolicy page should not be erroneous")
	}
}

func TestRecordRefs_DocumentOrder(t *testing.T) {
	s := New()
	page := mustCanon(t, "http://example.com/")
	a := mustCanon(t, "http://example.com/a")
	b := mustCanon(t, "http://example.com/b")

	s.GetOrCreate(page, 0, nil)

	refs := []PageRef{
		{CanonicalURL: a, SourceURL: page, HTMLTag: "a", HTMLAttr: "href"},
		{CanonicalURL: b, SourceURL: page, HTMLTag: "a", HTMLAttr: "href"},
	}
	s.GetOrCreate(a, 1, &refs[0])
	s.GetOrCreate(b, 1, &refs[1])
	s.RecordRefs(page, refs)

	got := s.Get(page).OutgoingRefs
	if len(got) != 2 || got[0].CanonicalURL != a || got[1].CanonicalURL != b {
		t.Errorf("OutgoingRefs = %+v, want document order [a, b]", got)
	}

	// Incoming refs grow at admission (GetOrCreate), never in RecordRefs,
	// so each edge is counted exactly once.
	if len(s.Get(a).IncomingRefs) != 1 {
		t.Errorf("a.IncomingRefs = %d, want 1", len(s.Get(a).IncomingRefs))
	}
}

func TestRecordRefs_OnlyOnce(t *testing.T) {
	s := New()
	page := mustCanon(t, "http://example.com/")
	a := mustCanon(t, "http://example.com/a")
	s.GetOrCreate(page, 0, nil)

	s.RecordRefs(page, []PageRef{{CanonicalURL: a}})
	s.RecordRefs(page, []PageRef{{CanonicalURL: a}, {CanonicalURL: a}})

	if len(s.Get(page).OutgoingRefs) != 1 {
		t.Errorf("RecordRefs should be a no-op after the first call")
	}
}

func TestSnapshot_IsDefensiveCopy(t *testing.T) {
	s := New()
	u := mustCanon(t, "http://example.com/")
	s.GetOrCreate(u, 0, nil)
	s.RecordRefs(u, []PageRef{{CanonicalURL: mustCanon(t, "http://example.com/a")}})

	snap := s.Snapshot()
	page := snap.Pages[u]
	page.OutgoingRefs[0].HTMLTag = "mutated"

	if s.Get(u).OutgoingRefs[0].HTMLTag == "mutated" {
		t.Error("mutating a snapshot's slice must not affect the live model")
	}
}
