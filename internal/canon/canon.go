// Package canon normalizes raw link strings into a canonical, comparable form
// and classifies them against a site's admission policy.
package canon

import (
	"errors"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidURL is returned when a raw string cannot be resolved into a
// crawlable http(s) URL.
var ErrInvalidURL = errors.New("canon: invalid url")

// CanonicalUrl is the normalized, comparable form of a URL. It is safe to use
// as a map key: equality and hash are derived structurally.
type CanonicalUrl struct {
	Scheme   string
	Host     string
	Port     string
	Path     string
	Query    string
	Fragment string // always empty; kept only so String() round-trips if ever needed
}

// String renders the canonical URL back into its wire form. Fragment is
// always omitted: it was stripped during canonicalization.
func (c CanonicalUrl) String() string {
	var b strings.Builder
	b.WriteString(c.Scheme)
	b.WriteString("://")
	b.WriteString(c.Host)
	if c.Port != "" && !isDefaultPort(c.Scheme, c.Port) {
		b.WriteString(":")
		b.WriteString(c.Port)
	}
	b.WriteString(c.Path)
	if c.Query != "" {
		b.WriteString("?")
		b.WriteString(c.Query)
	}
	return b.String()
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// Canonicalize resolves raw against base (nil for an absolute start URL) per
// RFC 3986, then normalizes scheme/host/port/path/query and strips the
// fragment. Any scheme other than http(s) yields ErrInvalidURL, so callers
// should check ClassifyScheme first for schemes that should be silently
// skipped rather than treated as invalid.
func Canonicalize(raw string, base *CanonicalUrl) (CanonicalUrl, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return CanonicalUrl{}, ErrInvalidURL
	}

	var resolved *url.URL
	if base != nil {
		baseURL, err := url.Parse(base.String())
		if err != nil {
			return CanonicalUrl{}, ErrInvalidURL
		}
		resolved = baseURL.ResolveReference(ref)
	} else {
		resolved = ref
	}

	scheme := strings.ToLower(resolved.Scheme)
	if scheme != "http" && scheme != "https" {
		return CanonicalUrl{}, ErrInvalidURL
	}

	host := resolved.Hostname()
	if host == "" {
		return CanonicalUrl{}, ErrInvalidURL
	}
	host, err = normalizeHost(host)
	if err != nil {
		return CanonicalUrl{}, ErrInvalidURL
	}

	port := resolved.Port()
	if port == "" {
		port = defaultPort(scheme)
	}

	path := resolved.EscapedPath()
	path = normalizePath(path)
	if path == "" {
		path = "/"
	}

	return CanonicalUrl{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   path,
		Query:  resolved.RawQuery,
	}, nil
}

// normalizeHost lower-cases an ASCII host and converts an internationalized
// host to its ASCII (A-label) form via IDNA.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(host, ".")
	if isASCII(host) {
		return strings.ToLower(host), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// normalizePath resolves "." and ".." segments and upper-cases the hex digits
// of percent-escapes, so "%7e" and "%7E" compare equal. Escapes are otherwise
// kept as net/url's EscapedPath returned them; escaped unreserved characters
// are not decoded.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	buf := []byte(p)
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] == '%' {
			for j := i + 1; j <= i+2; j++ {
				if buf[j] >= 'a' && buf[j] <= 'f' {
					buf[j] -= 'a' - 'A'
				}
			}
			i += 2
		}
	}
	p = string(buf)
	trailingSlash := strings.HasSuffix(p, "/") && p != "/"
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != "" {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	result := strings.Join(out, "/")
	if trailingSlash && !strings.HasSuffix(result, "/") {
		result += "/"
	}
	if !strings.HasPrefix(result, "/") {
		result = "/" + result
	}
	return result
}
