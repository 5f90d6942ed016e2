package canon

import (
	"net/url"
	"strings"
)

// SkipReason explains why a URL was not admitted into the crawl.
type SkipReason int

const (
	Ignored SkipReason = iota
	OutsideScope
	DepthExceeded
	UnsupportedScheme
	RedirectedOutOfScope
)

func (r SkipReason) String() string {
	switch r {
	case Ignored:
		return "Ignored"
	case OutsideScope:
		return "OutsideScope"
	case DepthExceeded:
		return "DepthExceeded"
	case UnsupportedScheme:
		return "UnsupportedScheme"
	case RedirectedOutOfScope:
		return "RedirectedOutOfScope"
	default:
		return "Unknown"
	}
}

// AdmissionKind is the outcome of classifying a canonical URL against a Policy.
type AdmissionKind int

const (
	CrawlAndFollow AdmissionKind = iota
	FetchOnly
	Skip
)

// Admission is the full classification result: a Kind, plus a Reason when
// Kind == Skip.
type Admission struct {
	Kind   AdmissionKind
	Reason SkipReason
}

// Policy carries the admission inputs that are otherwise global to a crawl:
// which hosts are crawled and followed, which prefixes are ignored outright,
// and whether out-of-scope hosts are fetched once without being followed.
type Policy struct {
	StartHosts      map[string]bool
	AcceptedHosts   map[string]bool
	IgnoredPrefixes []string
	TestOutside     bool
}

// Classify decides a canonical URL's admission, in order: ignored prefix,
// in-scope host, test-outside fallback, else skip.
func Classify(u CanonicalUrl, policy Policy) Admission {
	hostPath := u.Host + u.Path
	for _, prefix := range policy.IgnoredPrefixes {
		if strings.HasPrefix(hostPath, prefix) {
			return Admission{Kind: Skip, Reason: Ignored}
		}
	}

	if policy.StartHosts[u.Host] || policy.AcceptedHosts[u.Host] {
		return Admission{Kind: CrawlAndFollow}
	}

	if policy.TestOutside {
		return Admission{Kind: FetchOnly}
	}

	return Admission{Kind: Skip, Reason: OutsideScope}
}

// ClassifyScheme reports whether raw carries a scheme that should be treated
// as SkippedByPolicy(UnsupportedScheme) rather than resolved and
// canonicalized at all — mailto:, javascript:, data:, and friends. tel: is
// handled separately (see tel.go) since it has its own validation story.
func ClassifyScheme(raw string) (scheme string, skip bool) {
	ref, err := url.Parse(raw)
	if err != nil || ref.Scheme == "" {
		return "", false
	}
	s := strings.ToLower(ref.Scheme)
	switch s {
	case "http", "https", "tel":
		return s, false
	default:
		return s, true
	}
}
