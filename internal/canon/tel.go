package canon

import "regexp"

// telURI is a minimal RFC 3966 "tel:" syntax check: a scheme, a
// phone-digits (possibly with visual separators and a leading "+" for the
// global form), and optional ";"-prefixed parameters. It is intentionally
// permissive about parameter contents — the point is rejecting structurally
// malformed tel: links, not validating numbering plans.
var telURI = regexp.MustCompile(`^tel:\+?[0-9](?:[0-9.\-()]*[0-9])?(;[a-zA-Z0-9\-]+(=[a-zA-Z0-9\-.+%]*)?)*$`)

// IsValidTelURI reports whether raw is a syntactically well-formed tel: URI
// per the minimal grammar above. Callers only need this when
// Options.IgnoreBadTelURLs is unset — a malformed tel: link is then recorded
// as InvalidUrl rather than silently skipped.
func IsValidTelURI(raw string) bool {
	return telURI.MatchString(raw)
}
