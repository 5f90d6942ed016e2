// Package fetch wraps net/http behind the Fetcher capability the crawl
// engine depends on, turning transport outcomes into FetchStatus variants
// instead of bare Go errors.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hatchworks/hatchcrawl/internal/canon"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// Mode selects the HTTP method used for a fetch.
type Mode int

const (
	GET Mode = iota
	HEAD
)

func (m Mode) httpMethod() string {
	if m == HEAD {
		return http.MethodHead
	}
	return http.MethodGet
}

// DefaultMaxRedirects caps how many redirect hops one fetch will follow.
const DefaultMaxRedirects = 20

// Options configures one Fetcher for the lifetime of a crawl run. It is
// built once from config.Options and shared read-only across workers.
type Options struct {
	Timeout              time.Duration
	MaxRedirects         int
	UserAgent            string
	AllowInsecureContent bool
	Username             string
	Password             string
	Policy               canon.Policy
}

// Result is the outcome of one Fetch call: always a FetchStatus. Body holds
// the response body of every GET that got a response, whatever its status
// or content type; it is nil for HEAD.
type Result struct {
	Status   sitemodel.FetchStatus
	Response *sitemodel.ResponseMeta
	Body     []byte
}

// Fetcher is the capability the worker pool depends on. HTTPFetcher is the
// one implementation shipped with the engine.
type Fetcher interface {
	Fetch(ctx context.Context, u canon.CanonicalUrl, mode Mode) Result
}

var errOutOfScopeRedirect = errors.New("fetch: redirect target out of scope")

// HTTPFetcher fetches over net/http, with a single *http.Client reused
// across calls for connection pooling. It is safe for concurrent use: the
// coordinator shares one instance among all in-process workers, and each
// process-backend child builds its own.
type HTTPFetcher struct {
	opts   Options
	client *http.Client
}

// New builds an HTTPFetcher for one crawl run (or one worker child).
func New(opts Options) *HTTPFetcher {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	f := &HTTPFetcher{opts: opts}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.AllowInsecureContent}, //nolint:gosec // opt-in via --allow-insecure-content
	}

	f.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.opts.MaxRedirects {
				return fmt.Errorf("fetch: stopped after %d redirects", f.opts.MaxRedirects)
			}
			hop, err := canon.Canonicalize(req.URL.String(), nil)
			if err != nil {
				return nil
			}
			adm := canon.Classify(hop, f.opts.Policy)
			if adm.Kind == canon.Skip {
				return errOutOfScopeRedirect
			}
			return nil
		},
	}
	return f
}

// Fetch performs one GET or HEAD request and maps the outcome to a
// FetchStatus. It never returns a Go error: every failure mode, a non-2xx
// final status included, is a status variant.
func (f *HTTPFetcher) Fetch(ctx context.Context, u canon.CanonicalUrl, mode Mode) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, mode.httpMethod(), u.String(), nil)
	if err != nil {
		return Result{Status: sitemodel.StatusInvalidUrl(err.Error())}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	if f.opts.Username != "" && hostInScope(u, f.opts.Policy) {
		req.SetBasicAuth(f.opts.Username, f.opts.Password)
	}

	resp, err := f.client.Do(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, errOutOfScopeRedirect) {
			return Result{Status: sitemodel.StatusSkippedByPolicy(canon.RedirectedOutOfScope)}
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Result{Status: sitemodel.StatusTimeout()}
		}
		return Result{Status: sitemodel.StatusConnectionError(err.Error())}
	}
	defer resp.Body.Close()

	finalURL, canonErr := canon.Canonicalize(resp.Request.URL.String(), nil)
	if canonErr != nil {
		return Result{Status: sitemodel.StatusConnectionError(canonErr.Error())}
	}

	var body []byte
	if mode == GET {
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return Result{Status: sitemodel.StatusConnectionError(err.Error())}
		}
	}

	meta := &sitemodel.ResponseMeta{
		HTTPStatus:    resp.StatusCode,
		FinalURL:      finalURL,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: int64(len(body)),
		ElapsedMs:     elapsed,
	}
	if mode == HEAD {
		meta.ContentLength = resp.ContentLength
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Status: sitemodel.StatusHttpError(resp.StatusCode), Response: meta, Body: body}
	}

	if finalURL != u {
		return Result{Status: sitemodel.StatusRedirected(finalURL, resp.StatusCode), Response: meta, Body: body}
	}

	return Result{Status: sitemodel.StatusOk(resp.StatusCode), Response: meta, Body: body}
}

func hostInScope(u canon.CanonicalUrl, policy canon.Policy) bool {
	return policy.StartHosts[u.Host] || policy.AcceptedHosts[u.Host]
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
