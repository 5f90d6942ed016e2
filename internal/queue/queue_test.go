package queue

import (
	"sync"
	"testing"

	"github.com/hatchworks/hatchcrawl/internal/canon"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

func mustCanon(t *testing.T, raw string) canon.CanonicalUrl {
	t.Helper()
	u, err := canon.Canonicalize(raw, nil)
	if err != nil {
		t.Fatalf("canonicalize(%q): %v", raw, err)
	}
	return u
}

func testPolicy(host string) canon.Policy {
	return canon.Policy{StartHosts: map[string]bool{host: true}}
}

func TestAdmit_NewInScopeURLIsQueued(t *testing.T) {
	site := sitemodel.New()
	q := New(site, 8, 3, testPolicy("example.com"))
	u := mustCanon(t, "http://example.com/a")

	q.Admit(u, 0, nil)

	select {
	case item := <-q.Items():
		if item.CanonicalURL != u || item.Admission != canon.CrawlAndFollow {
			t.Errorf("unexpected item %+v", item)
		}
	default:
		t.Fatal("expected an item on the queue")
	}
}

func TestAdmit_DuplicateIsNotRequeued(t *testing.T) {
	site := sitemodel.New()
	q := New(site, 8, 3, testPolicy("example.com"))
	u := mustCanon(t, "http://example.com/a")

	q.Admit(u, 0, nil)
	<-q.Items()
	q.Admit(u, 1, nil)

	select {
	case item := <-q.Items():
		t.Fatalf("duplicate admit should not enqueue a second item, got %+v", item)
	default:
	}
}

func TestAdmit_DepthExceededIsSkippedNotQueued(t *testing.T) {
	site := sitemodel.New()
	q := New(site, 8, 1, testPolicy("example.com"))
	u := mustCanon(t, "http://example.com/deep")

	q.Admit(u, 2, nil)

	select {
	case item := <-q.Items():
		t.Fatalf("expected no item for depth-exceeded URL, got %+v", item)
	default:
	}
	page := site.Get(u)
	if page.Status.Kind != sitemodel.SkippedByPolicy || page.Status.SkipReason != canon.DepthExceeded {
		t.Errorf("status = %+v, want SkippedByPolicy(DepthExceeded)", page.Status)
	}
}

func TestAdmit_OutOfScopeIsSkippedNotQueued(t *testing.T) {
	site := sitemodel.New()
	q := New(site, 8, 3, testPolicy("example.com"))
	u := mustCanon(t, "http://other.example/x")

	q.Admit(u, 0, nil)

	select {
	case item := <-q.Items():
		t.Fatalf("expected no item for out-of-scope URL, got %+v", item)
	default:
	}
	page := site.Get(u)
	if page.Status.Kind != sitemodel.SkippedByPolicy || page.Status.SkipReason != canon.OutsideScope {
		t.Errorf("status = %+v, want SkippedByPolicy(OutsideScope)", page.Status)
	}
}

func TestAdmit_IgnoredPrefixIsSkipped(t *testing.T) {
	site := sitemodel.New()
	policy := testPolicy("example.com")
	policy.IgnoredPrefixes = []string{"example.com/admin"}
	q := New(site, 8, 3, policy)
	u := mustCanon(t, "http://example.com/admin/x")

	q.Admit(u, 0, nil)

	page := site.Get(u)
	if page.Status.Kind != sitemodel.SkippedByPolicy || page.Status.SkipReason != canon.Ignored {
		t.Errorf("status = %+v, want SkippedByPolicy(Ignored)", page.Status)
	}
}

func TestAdmit_TestOutsideYieldsFetchOnly(t *testing.T) {
	site := sitemodel.New()
	policy := testPolicy("example.com")
	policy.TestOutside = true
	q := New(site, 8, 3, policy)
	u := mustCanon(t, "http://other.example/x")

	q.Admit(u, 0, nil)

	item := <-q.Items()
	if item.Admission != canon.FetchOnly {
		t.Errorf("Admission = %v, want FetchOnly", item.Admission)
	}
}

func TestAdmit_ConcurrentDuplicatesEnqueueExactlyOnce(t *testing.T) {
	site := sitemodel.New()
	q := New(site, 64, 3, testPolicy("example.com"))
	u := mustCanon(t, "http://example.com/shared")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Admit(u, 0, nil)
		}()
	}
	wg.Wait()

	count := 0
	for {
		select {
		case <-q.Items():
			count++
		default:
			if count != 1 {
				t.Errorf("enqueued %d times, want exactly 1", count)
			}
			return
		}
	}
}

func TestAdmitInvalid_RecordsInvalidUrlStatus(t *testing.T) {
	site := sitemodel.New()
	q := New(site, 8, 3, testPolicy("example.com"))
	u := canon.CanonicalUrl{Scheme: "http", Host: "bad host", Path: "/"}

	q.AdmitInvalid(u, "invalid host", nil)

	page := site.Get(u)
	if page == nil || page.Status.Kind != sitemodel.InvalidUrl {
		t.Errorf("expected InvalidUrl status, got %+v", page)
	}
}
