package workerpool

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hatchworks/hatchcrawl/internal/canon"
	"github.com/hatchworks/hatchcrawl/internal/config"
	"github.com/hatchworks/hatchcrawl/internal/queue"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// pipeChild wires a workerChild's stdin/stdout to an in-process goroutine
// running RunWorkerChild, exercising the real JSON-lines IPC codec and
// processJobStandalone without actually forking a process — the part of
// the process backend most worth a direct regression test, since it is
// exactly where a missing Queue.Seed() call once caused a panic on every
// job (see internal/queue/queue.go's Seed doc comment).
func pipeChild(t *testing.T, hs ipcHandshake) *workerChild {
	t.Helper()

	toChild := make(chan []byte, 64)
	fromChild := make(chan []byte, 64)

	cr := &chanReader{ch: toChild}
	cw := &chanWriter{ch: fromChild}

	go func() {
		if err := RunWorkerChild(cr, cw); err != nil {
			t.Logf("RunWorkerChild exited: %v", err)
		}
	}()

	hsBytes, err := json.Marshal(hs)
	if err != nil {
		t.Fatalf("marshal handshake: %v", err)
	}
	toChild <- append(hsBytes, '\n')

	stdin := &chanWriter{ch: toChild}
	stdout := bufio.NewScanner(&chanReader{ch: fromChild})
	return &workerChild{stdin: stdin, stdout: stdout}
}

// chanWriter/chanReader adapt a []byte channel to io.Writer/io.Reader so
// RunWorkerChild's bufio.Scanner-based framing works unmodified over an
// in-memory channel instead of a real pipe.
type chanWriter struct{ ch chan []byte }

func (w *chanWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	w.ch <- cp
	return len(p), nil
}

func (w *chanWriter) Close() error { return nil }

type chanReader struct {
	ch  chan []byte
	buf []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		r.buf = <-r.ch
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func TestProcessPool_RoundTrip_ReplaysChildObservations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<a href="/child">child</a>`))
	})
	mux.HandleFunc("/child", func(w http.ResponseWriter, r *http.Request) {
		w.Write(nil)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	root := mustCanon(t, srv.URL+"/")
	policy := canon.Policy{StartHosts: map[string]bool{root.Host: true}}

	site := sitemodel.New()
	site.GetOrCreate(root, 0, nil)
	q := queue.New(site, 8, 3, policy)

	proc := &Processor{Queue: q, Site: site}
	pp := &ProcessPool{Processor: proc, Workers: 1}

	hs := BuildHandshake(config.Options{Timeout: 2 * time.Second}, policy, 3, 8)
	child := pipeChild(t, hs)

	item := queue.WorkItem{CanonicalURL: root, Depth: 0, Admission: canon.CrawlAndFollow}
	q.Seed()
	if err := pp.roundTrip(child, item); err != nil {
		t.Fatalf("roundTrip() error = %v", err)
	}

	page := site.Get(root)
	if page == nil || page.Status.Kind != sitemodel.Ok {
		t.Fatalf("root page = %+v, want Ok", page)
	}
	if len(page.OutgoingRefs) != 1 {
		t.Fatalf("root OutgoingRefs = %d, want 1", len(page.OutgoingRefs))
	}

	child2 := mustCanon(t, srv.URL+"/child")
	select {
	case admitted := <-q.Items():
		if admitted.CanonicalURL != child2 {
			t.Errorf("admitted %+v, want %+v", admitted.CanonicalURL, child2)
		}
	default:
		t.Fatal("expected the child's discovered link to be re-admitted onto the real queue")
	}

	linked := site.Get(child2)
	if linked == nil {
		t.Fatal("discovered link should exist in the real model")
	}
	if linked.Status.Kind != sitemodel.Pending {
		t.Errorf("discovered link status = %v, want Pending until a worker fetches it", linked.Status.Kind)
	}
	if len(linked.IncomingRefs) != 1 {
		t.Errorf("discovered link IncomingRefs = %d, want 1", len(linked.IncomingRefs))
	}
}

func mustCanon(t *testing.T, raw string) canon.CanonicalUrl {
	t.Helper()
	u, err := canon.Canonicalize(raw, nil)
	if err != nil {
		t.Fatalf("canonicalize(%q): %v", raw, err)
	}
	return u
}
