// Package htmldom implements the dom interfaces over a parsed HTML tree
// (golang.org/x/net/html). It backs the HTTP acquisition path, where a page
// is fetched once and scanned without a browser, and it is the in-process
// page used by tests: Append, SetAttribute, Move and Replace mutate the tree
// and notify subscribers the way a MutationObserver would.
//
// Computed style is approximated by the inline style attribute; a style
// oracle can be injected for anything richer. Canvas elements have no
// pixels unless a CanvasEncoder is supplied.
package htmldom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"weak"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/imgscout/dom"
)

// CanvasEncoder produces the data: URI of a canvas element, or an error
// such as dom.ErrTainted.
type CanvasEncoder func(ctx context.Context, el dom.Element) (string, error)

// StyleOracle resolves a computed style property. Returning "" with a nil
// error falls back to the inline style attribute.
type StyleOracle func(ctx context.Context, el dom.Element, prop string) (string, error)

// Document is a parsed page. Safe for concurrent use.
type Document struct {
	mu   sync.RWMutex
	root *html.Node
	url  string
	base *url.URL

	frames  map[string]*Document
	srcdocs map[weak.Pointer[html.Node]]*Document
	canvas  CanvasEncoder
	style   StyleOracle

	subMu sync.Mutex
	subs  []*subscriber
}

// Option configures a Document.
type Option func(*Document)

// WithCanvasEncoder sets how canvas elements are snapshotted.
func WithCanvasEncoder(fn CanvasEncoder) Option {
	return func(d *Document) { d.canvas = fn }
}

// WithStyleOracle sets a computed style resolver.
func WithStyleOracle(fn StyleOracle) Option {
	return func(d *Document) { d.style = fn }
}

// WithFrame attaches a loaded document for iframes whose src resolves to src.
func WithFrame(src string, frame *Document) Option {
	return func(d *Document) { d.frames[src] = frame }
}

// Parse reads an HTML page located at pageURL.
func Parse(r io.Reader, pageURL string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("htmldom: page url: %w", err)
	}
	d := &Document{
		root:    root,
		url:     pageURL,
		base:    base,
		frames:  make(map[string]*Document),
		srcdocs: make(map[weak.Pointer[html.Node]]*Document),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(markup, pageURL string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(markup), pageURL, opts...)
}

// AttachFrame registers a loaded document for iframes whose src resolves
// to src.
func (d *Document) AttachFrame(src string, frame *Document) {
	d.mu.Lock()
	d.frames[d.resolve(src)] = frame
	d.mu.Unlock()
}

// SameOrigin reports whether ref, resolved against the document, shares
// its scheme and host.
func (d *Document) SameOrigin(ref string) bool { return d.sameOrigin(ref) }

// ResolveURL resolves ref against the document address.
func (d *Document) ResolveURL(ref string) string { return d.resolve(ref) }

// URL implements dom.Document.
func (d *Document) URL() string { return d.url }

// Root implements dom.Document.
func (d *Document) Root(context.Context) (dom.Element, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrap(c), nil
		}
	}
	return nil, fmt.Errorf("htmldom: document has no root element")
}

// StyleTexts implements dom.Document.
func (d *Document) StyleTexts(context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var texts []string
	goquery.NewDocumentFromNode(d.root).Find("style").Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, s.Text())
	})
	return texts, nil
}

// Comments implements dom.Document.
func (d *Document) Comments(context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.CommentNode {
			out = append(out, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out, nil
}

// Find returns the elements matching a CSS selector, in document order.
func (d *Document) Find(selector string) []dom.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []dom.Element
	for _, n := range goquery.NewDocumentFromNode(d.root).Find(selector).Nodes {
		out = append(out, d.wrap(n))
	}
	return out
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf bytes.Buffer
	html.Render(&buf, d.root)
	return buf.String()
}

func (d *Document) wrap(n *html.Node) *element {
	return &element{doc: d, n: n}
}

func (d *Document) resolve(ref string) string {
	u, err := d.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func (d *Document) sameOrigin(ref string) bool {
	u, err := d.base.Parse(ref)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, d.base.Scheme) && strings.EqualFold(u.Host, d.base.Host)
}

// attached reports whether n is still part of the tree. Caller holds mu.
func (d *Document) attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}
