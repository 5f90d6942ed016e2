// Package extract pulls outgoing references out of an HTML document,
// preserving document order and the HTML context (tag/attribute) of each
// reference.
package extract

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Ref is one raw, not-yet-canonicalized outgoing reference found in a
// document, in the form the Work Queue's admission path expects.
type Ref struct {
	RawHref string
	Tag     string
	Attr    string
	Line    int // 0 when the parser does not expose token positions
	Col     int
}

// DefaultTagAttrs maps the HTML tags the extractor recognizes to the
// attribute that carries the reference. GoqueryParser.TagAttrs is the Go
// form of Options.Types: callers build it restricted to the configured
// subset of this map.
var DefaultTagAttrs = map[string]string{
	"a":      "href",
	"img":    "src",
	"link":   "href",
	"script": "src",
}

// Parser is the capability the crawl engine depends on for HTML link
// extraction. The interface is parser-agnostic even though GoqueryParser is
// the only implementation shipped.
type Parser interface {
	ExtractLinks(doc []byte, contentType string, base *url.URL) ([]Ref, error)
}

// GoqueryParser extracts links using github.com/PuerkitoBio/goquery.
type GoqueryParser struct {
	// TagAttrs restricts extraction to these tag->attribute pairs. A nil or
	// empty map falls back to DefaultTagAttrs.
	TagAttrs map[string]string
	// Strict disables whitespace trimming of extracted attribute values.
	Strict bool
}

// ExtractLinks parses doc as HTML (a no-op, empty-result return for
// non-HTML content types) and walks it in document order, yielding one Ref
// per recognized tag/attribute occurrence. A <base href> in the document
// head, when present and resolvable against base, overrides base for every
// reference extracted from this document — callers that need the
// *effective* base for canonicalizing the refs should re-resolve against
// it, not against the original base.
func (p *GoqueryParser) ExtractLinks(doc []byte, contentType string, base *url.URL) ([]Ref, error) {
	if !isHTMLContentType(contentType) {
		return nil, nil
	}

	gdoc, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}

	tagAttrs := p.TagAttrs
	if len(tagAttrs) == 0 {
		tagAttrs = DefaultTagAttrs
	}

	var refs []Ref
	gdoc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		node := sel.Get(0)
		if node == nil {
			return
		}
		tag := strings.ToLower(node.Data)
		attr, ok := tagAttrs[tag]
		if !ok {
			return
		}
		val, exists := sel.Attr(attr)
		if !exists {
			return
		}
		if !p.Strict {
			val = strings.TrimSpace(val)
		}
		if val == "" {
			return
		}
		refs = append(refs, Ref{RawHref: val, Tag: tag, Attr: attr})
	})

	attachPositions(refs, doc, tagAttrs)
	return refs, nil
}

// attachPositions fills in each Ref's Line/Col: goquery's own public API
// doesn't expose token positions, but golang.org/x/net/html's tokenizer —
// the same HTML5 tokenizer
// goquery is built on — reports each token's raw bytes in document order, so
// line/column can be derived by walking the tokenizer in lockstep and
// counting newlines. Matched to refs positionally: both this scan and
// goquery's DOM walk visit recognized tag/attr occurrences in document
// order, so the i-th tokenizer hit corresponds to the i-th Ref for
// well-formed markup. Malformed HTML that the DOM builder repairs
// differently than the raw token stream (implicit tag closing, foster
// parenting) can desync the two; refs past the last matched position are
// simply left at line/col zero rather than guessing.
func attachPositions(refs []Ref, doc []byte, tagAttrs map[string]string) {
	if len(refs) == 0 {
		return
	}
	positions := tokenPositions(doc, tagAttrs)
	for i := range refs {
		if i >= len(positions) {
			return
		}
		refs[i].Line = positions[i].line
		refs[i].Col = positions[i].col
	}
}

type tokenPosition struct {
	line, col int
}

// tokenPositions walks doc with an x/net/html.Tokenizer, returning the
// (line, col) of the start of every StartTagToken/SelfClosingTagToken whose
// name and recognized attribute appear in tagAttrs, in document order. Lines
// and columns are both 1-based.
func tokenPositions(doc []byte, tagAttrs map[string]string) []tokenPosition {
	z := html.NewTokenizer(bytes.NewReader(doc))
	line, col := 1, 1
	var out []tokenPosition

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		raw := z.Raw()
		startLine, startCol := line, col

		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			name, hasAttr := z.TagName()
			if attrName, wanted := tagAttrs[string(name)]; wanted && hasAttr {
				for {
					key, _, more := z.TagAttr()
					if string(key) == attrName {
						out = append(out, tokenPosition{line: startLine, col: startCol})
					}
					if !more {
						break
					}
				}
			}
		}

		for _, b := range raw {
			if b == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
	}
}

// EffectiveBase returns the <base href> override for a document, or
// fallback if none is present or it fails to parse/resolve.
func EffectiveBase(doc []byte, fallback *url.URL) *url.URL {
	gdoc, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return fallback
	}
	href, exists := gdoc.Find("base[href]").First().Attr("href")
	if !exists {
		return fallback
	}
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return fallback
	}
	return fallback.ResolveReference(ref)
}

func isHTMLContentType(contentType string) bool {
	if contentType == "" {
		// Unknown content-type is not assumed to be HTML; an empty type
		// yields no links.
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
