// Package workerpool implements the crawl engine's three interchangeable
// concurrency backends. All three schedule the same per-item logic,
// defined once here as Processor.ProcessItem, and differ only in how that
// function is invoked and how results flow back to the coordinator.
package workerpool

import (
	"context"
	"net/url"

	"github.com/hatchworks/hatchcrawl/internal/canon"
	"github.com/hatchworks/hatchcrawl/internal/extract"
	"github.com/hatchworks/hatchcrawl/internal/fetch"
	"github.com/hatchworks/hatchcrawl/internal/queue"
	"github.com/hatchworks/hatchcrawl/internal/report"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// Processor holds the capabilities one worker needs to carry a WorkItem
// from claim to recorded result: fetch it, parse it if eligible, and admit
// whatever it links to. It has no backend-specific state; thread.go,
// process.go, and cooperative.go each own their own scheduling around it.
type Processor struct {
	Fetcher          fetch.Fetcher
	Parser           extract.Parser
	Queue            *queue.Queue
	Site             *sitemodel.SiteModel
	Reporter         report.Reporter
	IgnoreBadTelURLs bool
}

// ProcessItem is the shared per-item loop: claim →
// mark InFlight → fetch → on success, HTML, and CrawlAndFollow → parse →
// admit each extracted ref → record result. The thread and process
// backends call it as one sequential unit, relying on the Site Model's own
// mutex (or, for the process backend, the absence of shared memory) for
// correctness. The cooperative backend instead splits it into MarkInFlight
// and Fetch (pure I/O, safe to run on an ordinary goroutine) plus Apply
// (the mutating remainder), so that every mutation happens on its single
// owning goroutine regardless of how many fetches are outstanding.
func (p *Processor) ProcessItem(ctx context.Context, item queue.WorkItem) {
	p.MarkInFlight(item)
	out := p.Fetch(ctx, item)
	p.Apply(item, out)
}

// MarkInFlight transitions a page to InFlight just before its fetch is
// dispatched.
func (p *Processor) MarkInFlight(item queue.WorkItem) {
	p.Site.SetStatus(item.CanonicalURL, sitemodel.FetchStatus{Kind: sitemodel.InFlight}, nil)
}

// Fetch performs the pure I/O step with no Site Model or Queue mutation,
// safe to run concurrently on any goroutine.
func (p *Processor) Fetch(ctx context.Context, item queue.WorkItem) fetch.Result {
	mode := fetch.GET
	if item.Admission == canon.FetchOnly {
		mode = fetch.HEAD
	}
	return p.Fetcher.Fetch(ctx, item.CanonicalURL, mode)
}

// Apply records a fetch's outcome and performs every mutating follow-on
// step (redirect bookkeeping, parsing, admission, reporting). Callers that
// need mutation confined to a single goroutine invoke this there, after
// receiving the Result from a Fetch call made elsewhere.
func (p *Processor) Apply(item queue.WorkItem, res fetch.Result) {
	p.Site.SetStatus(item.CanonicalURL, res.Status, res.Response)

	if res.Status.Kind == sitemodel.Redirected {
		p.admitRedirectTarget(item, res)
	}

	if item.Admission == canon.CrawlAndFollow && res.Status.Kind == sitemodel.Ok {
		if page := p.Site.Get(item.CanonicalURL); page != nil && page.IsHTML {
			p.parseAndAdmit(item.CanonicalURL, item.Depth, res.Body)
		}
	}

	if p.Reporter != nil {
		if page := p.Site.Get(item.CanonicalURL); page != nil {
			p.Reporter.OnPageDone(*page)
		}
	}

	p.Queue.Done()
}

// admitRedirectTarget records the final URL of a redirect chain as a second
// Page, admitted
// as if linked from the original URL, using the response already in hand
// rather than issuing a second fetch.
func (p *Processor) admitRedirectTarget(item queue.WorkItem, res fetch.Result) {
	final := res.Status.FinalURL
	origin := &sitemodel.PageRef{
		CanonicalURL: final,
		SourceURL:    item.CanonicalURL,
		HTMLTag:      "redirect",
		Depth:        item.Depth,
	}
	_, wasNew := p.Site.GetOrCreate(final, item.Depth, origin)
	if !wasNew {
		return
	}

	adm := canon.Classify(final, p.Queue.Policy())
	if adm.Kind == canon.Skip {
		p.Site.SetStatus(final, sitemodel.StatusSkippedByPolicy(adm.Reason), nil)
		return
	}

	status := sitemodel.StatusOk(res.Response.HTTPStatus)
	if res.Response.HTTPStatus < 200 || res.Response.HTTPStatus >= 300 {
		status = sitemodel.StatusHttpError(res.Response.HTTPStatus)
	}
	p.Site.SetStatus(final, status, res.Response)

	if adm.Kind == canon.CrawlAndFollow {
		if page := p.Site.Get(final); page != nil && page.IsHTML {
			p.parseAndAdmit(final, item.Depth, res.Body)
		}
	}
}

func (p *Processor) parseAndAdmit(src canon.CanonicalUrl, depth int, body []byte) {
	page := p.Site.Get(src)
	if page == nil || page.Response == nil {
		return
	}

	baseURL, err := url.Parse(src.String())
	if err != nil {
		p.Site.SetParseDiagnostic(src, err.Error())
		return
	}
	effBase := extract.EffectiveBase(body, baseURL)

	refs, err := p.Parser.ExtractLinks(body, page.Response.ContentType, effBase)
	if err != nil {
		p.Site.SetParseDiagnostic(src, err.Error())
		return
	}

	pageRefs := make([]sitemodel.PageRef, 0, len(refs))
	for _, ref := range refs {
		pr := p.resolveRef(src, ref, effBase, depth+1)
		if pr == nil {
			continue
		}
		pageRefs = append(pageRefs, *pr)

		if pr.CanonicalURL.Scheme == "http" || pr.CanonicalURL.Scheme == "https" {
			p.Queue.Admit(pr.CanonicalURL, depth+1, pr)
		}
	}
	p.Site.RecordRefs(src, pageRefs)
}

// resolveRef turns one raw extracted reference into a PageRef at the given
// target depth, handling non-crawlable schemes and tel: URIs inline before
// falling through to ordinary http(s) canonicalization. The ref itself is
// threaded into every admission call as the originating edge — GetOrCreate
// is the single place a target page's incoming refs grow.
func (p *Processor) resolveRef(src canon.CanonicalUrl, ref extract.Ref, base *url.URL, depth int) *sitemodel.PageRef {
	raw := ref.RawHref
	pr := &sitemodel.PageRef{
		SourceURL:  src,
		HTMLTag:    ref.Tag,
		HTMLAttr:   ref.Attr,
		RawHref:    raw,
		SourceLine: ref.Line,
		SourceCol:  ref.Col,
		Depth:      depth,
	}

	scheme, skip := canon.ClassifyScheme(raw)
	if skip {
		pr.CanonicalURL = canon.CanonicalUrl{Scheme: scheme, Path: raw}
		p.recordNonCrawlable(pr.CanonicalURL, sitemodel.StatusSkippedByPolicy(canon.UnsupportedScheme), pr)
		return pr
	}

	if scheme == "tel" {
		pr.CanonicalURL = canon.CanonicalUrl{Scheme: "tel", Path: raw}
		if canon.IsValidTelURI(raw) {
			p.recordNonCrawlable(pr.CanonicalURL, sitemodel.StatusSkippedByPolicy(canon.UnsupportedScheme), pr)
			return pr
		}
		if p.IgnoreBadTelURLs {
			p.recordNonCrawlable(pr.CanonicalURL, sitemodel.StatusSkippedByPolicy(canon.UnsupportedScheme), pr)
		} else {
			p.Queue.AdmitInvalid(pr.CanonicalURL, "malformed tel: URI", pr)
		}
		return pr
	}

	baseCanon, err := canon.Canonicalize(base.String(), nil)
	if err != nil {
		return nil
	}
	target, err := canon.Canonicalize(raw, &baseCanon)
	if err != nil {
		pr.CanonicalURL = canon.CanonicalUrl{Scheme: "invalid", Path: raw}
		p.Queue.AdmitInvalid(pr.CanonicalURL, err.Error(), pr)
		return pr
	}
	pr.CanonicalURL = target
	return pr
}

// recordNonCrawlable inserts a pseudo-page for a non-http(s) reference
// exactly once, so repeated mailto:/tel: links don't re-trigger status
// transitions, without ever pushing it onto the work queue. Every
// occurrence still records its originating edge.
func (p *Processor) recordNonCrawlable(u canon.CanonicalUrl, status sitemodel.FetchStatus, origin *sitemodel.PageRef) {
	_, wasNew := p.Site.GetOrCreate(u, 0, origin)
	if wasNew {
		p.Site.SetStatus(u, status, nil)
	}
}
