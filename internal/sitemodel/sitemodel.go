// Package sitemodel holds the in-memory record of every URL seen during a
// crawl: its fetch status, timing, and the graph edges (incoming/outgoing
// references) between pages. It is the crawl engine's one piece of shared
// mutable state that isn't the work queue itself.
package sitemodel

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hatchworks/hatchcrawl/internal/canon"
)

// StatusKind is the tag of the FetchStatus variant.
type StatusKind int

const (
	Pending StatusKind = iota
	InFlight
	Ok
	Redirected
	HttpError
	Timeout
	ConnectionError
	InvalidUrl
	SkippedByPolicy
)

func (k StatusKind) String() string {
	switch k {
	case Pending:
		return "Pending"
	case InFlight:
		return "InFlight"
	case Ok:
		return "Ok"
	case Redirected:
		return "Redirected"
	case HttpError:
		return "HttpError"
	case Timeout:
		return "Timeout"
	case ConnectionError:
		return "ConnectionError"
	case InvalidUrl:
		return "InvalidUrl"
	case SkippedByPolicy:
		return "SkippedByPolicy"
	default:
		return "Unknown"
	}
}

// FetchStatus is the tagged-variant status of a Page's fetch. Only the
// fields relevant to Kind are meaningful.
type FetchStatus struct {
	Kind       StatusKind
	Code       int              // Ok, Redirected, HttpError
	FinalURL   canon.CanonicalUrl // Redirected
	Detail     string           // ConnectionError, InvalidUrl
	SkipReason canon.SkipReason // SkippedByPolicy
}

func StatusOk(code int) FetchStatus { return FetchStatus{Kind: Ok, Code: code} }

func StatusRedirected(final canon.CanonicalUrl, code int) FetchStatus {
	return FetchStatus{Kind: Redirected, FinalURL: final, Code: code}
}

func StatusHttpError(code int) FetchStatus { return FetchStatus{Kind: HttpError, Code: code} }

func StatusTimeout() FetchStatus { return FetchStatus{Kind: Timeout} }

func StatusConnectionError(detail string) FetchStatus {
	return FetchStatus{Kind: ConnectionError, Detail: detail}
}

func StatusInvalidUrl(detail string) FetchStatus {
	return FetchStatus{Kind: InvalidUrl, Detail: detail}
}

func StatusSkippedByPolicy(reason canon.SkipReason) FetchStatus {
	return FetchStatus{Kind: SkippedByPolicy, SkipReason: reason}
}

// IsErroneous reports whether this status counts as an erroneous page: an
// HTTP or transport failure (or a bad link), never a policy skip.
func (s FetchStatus) IsErroneous() bool {
	switch s.Kind {
	case HttpError, Timeout, ConnectionError, InvalidUrl:
		return true
	default:
		return false
	}
}

// ResponseMeta carries the observable facts of a completed HTTP response.
type ResponseMeta struct {
	HTTPStatus    int
	FinalURL      canon.CanonicalUrl
	ContentType   string
	ContentLength int64
	ElapsedMs     int64
}

// PageRef describes one edge in the site graph: a reference from SourceURL
// to CanonicalURL, found at a given HTML tag/attr/position.
type PageRef struct {
	CanonicalURL canon.CanonicalUrl
	SourceURL    canon.CanonicalUrl
	SourceLine   int // 0 when unavailable
	SourceCol    int // 0 when unavailable
	HTMLTag      string
	HTMLAttr     string
	RawHref      string
	Depth        int
}

// ParseDiagnostic records a non-fatal HTML parse failure on a page that was
// otherwise fetched successfully.
type ParseDiagnostic struct {
	Message string
}

// Page is one node in the site graph.
type Page struct {
	CanonicalURL    canon.CanonicalUrl
	Depth           int
	Status          FetchStatus
	Response        *ResponseMeta
	OutgoingRefs    []PageRef
	IncomingRefs    []PageRef
	IsHTML          bool
	Erroneous       bool
	ParseDiagnostic *ParseDiagnostic
}

// SiteModel is the shared, mutex-guarded result store for one crawl
// invocation. The zero value is not usable; construct with New.
type SiteModel struct {
	RunID     string
	StartURLs []canon.CanonicalUrl
	StartTime time.Time
	EndTime   time.Time

	mu    sync.Mutex
	pages map[canon.CanonicalUrl]*Page
}

// New creates an empty SiteModel tagged with a fresh run ID.
func New() *SiteModel {
	return &SiteModel{
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
		pages:     make(map[canon.CanonicalUrl]*Page),
	}
}

// GetOrCreate inserts url at depth with status Pending if absent, or updates
// the existing page's depth to the minimum of the two and appends origin to
// its incoming refs if present. It reports whether the page was newly
// created. Callers that need to act on that decision (the Work Queue's
// Admit) must call this and branch on wasNew under the same lock-protected
// operation the Site Model already performs internally, which is why this
// method — not a separate Exists/Insert pair — is the one atomic primitive.
func (s *SiteModel) GetOrCreate(url canon.CanonicalUrl, depth int, origin *PageRef) (page *Page, wasNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[url]; ok {
		if depth < p.Depth {
			p.Depth = depth
		}
		if origin != nil {
			p.IncomingRefs = append(p.IncomingRefs, *origin)
		}
		return p, false
	}

	p := &Page{
		CanonicalURL: url,
		Depth:        depth,
		Status:       FetchStatus{Kind: Pending},
	}
	if origin != nil {
		p.IncomingRefs = append(p.IncomingRefs, *origin)
	}
	s.pages[url] = p
	return p, true
}

// SetStatus transitions a page's status and, for terminal statuses, records
// its response metadata and erroneous flag.
func (s *SiteModel) SetStatus(url canon.CanonicalUrl, status FetchStatus, response *ResponseMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[url]
	if !ok {
		return
	}
	p.Status = status
	p.Response = response
	p.Erroneous = status.IsErroneous()
	if response != nil {
		p.IsHTML = isHTMLContentType(response.ContentType)
	}
}

// SetParseDiagnostic attaches a non-fatal parse diagnostic to a page whose
// HTTP fetch succeeded but whose HTML failed to parse.
func (s *SiteModel) SetParseDiagnostic(url canon.CanonicalUrl, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[url]; ok {
		p.ParseDiagnostic = &ParseDiagnostic{Message: msg}
	}
}

// RecordRefs sets a page's outgoing refs, once. Incoming refs are not
// touched here: GetOrCreate is the single writer of incoming edges (every
// admission path passes it the originating ref), so recording the outgoing
// side never double-counts an edge.
func (s *SiteModel) RecordRefs(url canon.CanonicalUrl, refs []PageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[url]
	if !ok || p.OutgoingRefs != nil {
		return
	}
	p.OutgoingRefs = refs
}

// Get returns the page for url, or nil if it does not exist.
func (s *SiteModel) Get(url canon.CanonicalUrl) *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[url]
}

// Finish stamps EndTime. Called once by the coordinator after the crawl
// terminates.
func (s *SiteModel) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndTime = time.Now()
}

// Snapshot is an immutable, defensively-copied view of the Site Model
// suitable for a report formatter to read after Run() returns.
type Snapshot struct {
	RunID     string
	StartURLs []canon.CanonicalUrl
	StartTime time.Time
	EndTime   time.Time
	Pages     map[canon.CanonicalUrl]Page
}

// Snapshot returns a deep-enough copy of the current state: the page map is
// copied, and each Page's slice fields are copied so a caller holding the
// snapshot can never observe a future mutation.
func (s *SiteModel) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := make(map[canon.CanonicalUrl]Page, len(s.pages))
	for url, p := range s.pages {
		cp := *p
		cp.OutgoingRefs = append([]PageRef(nil), p.OutgoingRefs...)
		cp.IncomingRefs = append([]PageRef(nil), p.IncomingRefs...)
		pages[url] = cp
	}

	return Snapshot{
		RunID:     s.RunID,
		StartURLs: append([]canon.CanonicalUrl(nil), s.StartURLs...),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Pages:     pages,
	}
}

// ErroneousCount returns the number of pages whose status is erroneous, used
// by the CLI to compute its exit code.
func (s *SiteModel) ErroneousCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pages {
		if p.Erroneous {
			n++
		}
	}
	return n
}

// Len returns the number of pages currently in the model.
func (s *SiteModel) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

func isHTMLContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	base, _, _ := strings.Cut(contentType, ";")
	ct := strings.ToLower(strings.TrimSpace(base))
	return ct == "text/html" || ct == "application/xhtml+xml"
}
