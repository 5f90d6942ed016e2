package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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

func hostOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := canon.Canonicalize(srv.URL, nil)
	if err != nil {
		t.Fatalf("canonicalize server URL: %v", err)
	}
	return u.Host
}

func TestFetch_SuccessfulGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := New(Options{Timeout: 2 * time.Second, Policy: canon.Policy{StartHosts: map[string]bool{hostOf(t, srv): true}}})
	u := mustCanon(t, srv.URL+"/")

	res := f.Fetch(context.Background(), u, GET)
	if res.Status.Kind != sitemodel.Ok {
		t.Fatalf("status = %+v, want Ok", res.Status)
	}
	if string(res.Body) != "<html></html>" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Options{Timeout: 2 * time.Second, Policy: canon.Policy{StartHosts: map[string]bool{hostOf(t, srv): true}}})
	u := mustCanon(t, srv.URL+"/missing")

	res := f.Fetch(context.Background(), u, GET)
	if res.Status.Kind != sitemodel.HttpError || res.Status.Code != 404 {
		t.Fatalf("status = %+v, want HttpError(404)", res.Status)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Options{Timeout: 5 * time.Millisecond, Policy: canon.Policy{StartHosts: map[string]bool{hostOf(t, srv): true}}})
	u := mustCanon(t, srv.URL+"/slow")

	res := f.Fetch(context.Background(), u, GET)
	if res.Status.Kind != sitemodel.Timeout {
		t.Fatalf("status = %+v, want Timeout", res.Status)
	}
}

func TestFetch_RedirectInScope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host := hostOf(t, srv)
	f := New(Options{Timeout: 2 * time.Second, Policy: canon.Policy{StartHosts: map[string]bool{host: true}}})
	u := mustCanon(t, srv.URL+"/old")

	res := f.Fetch(context.Background(), u, GET)
	if res.Status.Kind != sitemodel.Redirected {
		t.Fatalf("status = %+v, want Redirected", res.Status)
	}
	want := mustCanon(t, srv.URL+"/new")
	if res.Status.FinalURL != want {
		t.Errorf("FinalURL = %+v, want %+v", res.Status.FinalURL, want)
	}
}

func TestFetch_RedirectOutOfScopeIsSkipped(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("outside"))
	}))
	defer other.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/leave", func(w http.ResponseWriter, r *http.Request) {
		// other.URL and srv.URL both bind to 127.0.0.1; swap in "localhost"
		// (which also resolves to the loopback interface) so the redirect
		// target is a genuinely different Host for Classify's purposes.
		http.Redirect(w, r, strings.Replace(other.URL, "127.0.0.1", "localhost", 1)+"/x", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host := hostOf(t, srv)
	f := New(Options{Timeout: 2 * time.Second, Policy: canon.Policy{StartHosts: map[string]bool{host: true}}})
	u := mustCanon(t, srv.URL+"/leave")

	res := f.Fetch(context.Background(), u, GET)
	if res.Status.Kind != sitemodel.SkippedByPolicy || res.Status.SkipReason != canon.RedirectedOutOfScope {
		t.Fatalf("status = %+v, want SkippedByPolicy(RedirectedOutOfScope)", res.Status)
	}
}

func TestFetch_BasicAuthOnlyAppliedInScope(t *testing.T) {
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, gotAuth = r.BasicAuth()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	host := hostOf(t, srv)
	f := New(Options{
		Timeout:  2 * time.Second,
		Username: "alice",
		Password: "secret",
		Policy:   canon.Policy{StartHosts: map[string]bool{host: true}},
	})
	u := mustCanon(t, srv.URL+"/")

	res := f.Fetch(context.Background(), u, GET)
	if res.Status.Kind != sitemodel.Ok {
		t.Fatalf("status = %+v, want Ok", res.Status)
	}
	if !gotAuth {
		t.Error("expected Basic auth header on in-scope host")
	}

	outsideOpts := f.opts
	outsideOpts.Policy = canon.Policy{StartHosts: map[string]bool{"other.example": true}}
	outside := New(outsideOpts)
	gotAuth = false
	res = outside.Fetch(context.Background(), u, GET)
	if res.Status.Kind != sitemodel.Ok {
		t.Fatalf("status = %+v, want Ok", res.Status)
	}
	if gotAuth {
		t.Error("expected no Basic auth header on out-of-scope host")
	}
}

func TestFetch_HEADDoesNotReadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("should not be read"))
	}))
	defer srv.Close()

	f := New(Options{Timeout: 2 * time.Second, Policy: canon.Policy{StartHosts: map[string]bool{hostOf(t, srv): true}}})
	u := mustCanon(t, srv.URL+"/")

	res := f.Fetch(context.Background(), u, HEAD)
	if res.Status.Kind != sitemodel.Ok {
		t.Fatalf("status = %+v, want Ok", res.Status)
	}
	if res.Body != nil {
		t.Errorf("HEAD should not populate Body, got %q", res.Body)
	}
}
