// Package extract turns one element into the candidate image sources it
// exposes. It holds no scan state: the caller decides which candidates are
// new. Raster surfaces (canvas, inline SVG) are registered in a blob.Store
// and returned as synthetic sources.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/hazyhaar/imgscout/blob"
	"github.com/hazyhaar/imgscout/classify"
	"github.com/hazyhaar/imgscout/dom"
)

// Via names the rule that produced a candidate.
type Via string

const (
	ViaAttribute  Via = "attribute"
	ViaSrcset     Via = "srcset"
	ViaStyle      Via = "style"
	ViaCanvas     Via = "canvas"
	ViaSVG        Via = "svg"
	ViaEmbedded   Via = "embedded"
	ViaStylesheet Via = "stylesheet"
	ViaComment    Via = "comment"
)

// Candidate is one source string and the rule that found it.
type Candidate struct {
	Source string
	Via    Via
}

// Options controls a single Extract call.
type Options struct {
	// Base resolves relative references. Nil leaves them as written.
	Base *url.URL
	// Surfaces enables canvas snapshots and SVG serialisation.
	Surfaces bool
}

// LazyAttributes are the lazy-load conventions read even when the value
// does not look like an image.
var LazyAttributes = []string{
	"src",
	"data-src",
	"data-original",
	"data-lazy",
	"data-lazy-src",
	"data-actual-src",
	"data-url",
	"data-hi-res-src",
	"data-full-src",
	"data-zoom-image",
	"data-bg",
	"data-background",
	"poster",
	"href",
	"xlink:href",
}

// SrcsetAttributes hold comma-separated candidate lists.
var SrcsetAttributes = []string{"srcset", "data-srcset", "data-lazy-srcset", "imagesrcset"}

// StyleProperties are the computed style properties that carry images.
var StyleProperties = []string{"background-image", "mask-image", "-webkit-mask-image"}

var (
	embeddedDataRe = regexp.MustCompile(`(?i)data:image/[a-z0-9.+-]+;base64,[A-Za-z0-9+/]+={0,2}`)
	bareURLRe      = regexp.MustCompile(`(?i)\bhttps?://[^\s"'()<>\\]+`)
)

const svgNS = "http://www.w3.org/2000/svg"

// Extractor applies the extraction rules. It is safe for concurrent use.
type Extractor struct {
	blobs  *blob.Store
	logger *slog.Logger
	lazy   map[string]bool
	srcset map[string]bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger for per-rule diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extractor) { x.logger = l }
}

// WithBlobStore sets the registry used for canvas and SVG payloads.
// Without one, canvas snapshots are returned as data: URIs and SVG is skipped.
func WithBlobStore(s *blob.Store) Option {
	return func(x *Extractor) { x.blobs = s }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{
		lazy:   make(map[string]bool, len(LazyAttributes)),
		srcset: make(map[string]bool, len(SrcsetAttributes)),
	}
	for _, a := range LazyAttributes {
		x.lazy[a] = true
	}
	for _, a := range SrcsetAttributes {
		x.srcset[a] = true
	}
	for _, o := range opts {
		o(x)
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}
	return x
}

// Extract returns the union of every rule's candidates for el, in rule
// order, without duplicates. Only a failure to read the attributes is
// returned as an error; the other rules log and yield nothing.
func (x *Extractor) Extract(ctx context.Context, el dom.Element, opts Options) ([]Candidate, error) {
	attrs, err := el.Attributes(ctx)
	if err != nil {
		return nil, err
	}

	c := collector{base: opts.Base, seen: make(map[string]bool)}

	// Direct references.
	for _, a := range attrs {
		name := strings.ToLower(a.Name)
		if x.srcset[name] || name == "style" {
			continue
		}
		v := strings.TrimSpace(a.Value)
		if x.lazy[name] || classify.LooksLikeImageSource(v) {
			c.add(v, ViaAttribute)
		}
	}

	// srcset-style lists.
	for _, a := range attrs {
		if !x.srcset[strings.ToLower(a.Name)] {
			continue
		}
		for _, u := range SrcsetURLs(a.Value) {
			c.add(u, ViaSrcset)
		}
	}

	// Computed style.
	for _, prop := range StyleProperties {
		v, err := el.ComputedStyle(ctx, prop)
		if err != nil {
			x.logger.Debug("extract: computed style", "tag", el.Tag(), "property", prop, "error", err)
			continue
		}
		if v == "" || v == "none" {
			continue
		}
		for _, u := range CSSURLs(v) {
			c.add(u, ViaStyle)
		}
	}

	// Surfaces.
	if opts.Surfaces {
		switch el.Tag() {
		case "canvas":
			if src := x.canvas(ctx, el); src != "" {
				c.add(src, ViaCanvas)
			}
		case "svg":
			if src := x.svg(ctx, el); src != "" {
				c.add(src, ViaSVG)
			}
		}
	}

	// Base64 payloads buried inside attribute values and inline style.
	for _, a := range attrs {
		if !strings.Contains(a.Value, "base64,") {
			continue
		}
		for _, m := range embeddedDataRe.FindAllString(a.Value, -1) {
			c.add(m, ViaEmbedded)
		}
	}

	return c.out, nil
}

// ExtractText finds references in free text that belongs to no element:
// stylesheet bodies and comments. Stylesheets are tokenized for url() and
// image-set(); both kinds are searched for absolute urls and base64 payloads.
func (x *Extractor) ExtractText(text string, base *url.URL, via Via) []Candidate {
	c := collector{base: base, seen: make(map[string]bool)}
	if via == ViaStylesheet {
		for _, u := range CSSURLs(text) {
			c.add(u, via)
		}
	}
	for _, m := range bareURLRe.FindAllString(text, -1) {
		c.add(strings.TrimRight(m, ".,;"), via)
	}
	for _, m := range embeddedDataRe.FindAllString(text, -1) {
		c.add(m, via)
	}
	return c.out
}

func (x *Extractor) canvas(ctx context.Context, el dom.Element) string {
	dataURL, err := el.CanvasDataURL(ctx)
	if err != nil {
		if errors.Is(err, dom.ErrTainted) || errors.Is(err, dom.ErrNoSurface) {
			x.logger.Debug("extract: canvas unreadable", "error", err)
		} else {
			x.logger.Warn("extract: canvas snapshot", "error", err)
		}
		return ""
	}
	if x.blobs == nil {
		return dataURL
	}
	mimeType, data, err := classify.DecodeBase64Image(dataURL)
	if err != nil {
		x.logger.Debug("extract: canvas payload rejected", "error", err)
		return ""
	}
	return x.blobs.Put(data, mimeType)
}

func (x *Extractor) svg(ctx context.Context, el dom.Element) string {
	if x.blobs == nil {
		return ""
	}
	markup, err := el.OuterHTML(ctx)
	if err != nil {
		x.logger.Debug("extract: svg serialise", "error", err)
		return ""
	}
	markup = strings.TrimSpace(markup)
	if markup == "" {
		return ""
	}
	if !strings.Contains(markup[:strings.IndexByte(markup+">", '>')], "xmlns") {
		markup = strings.Replace(markup, "<svg", `<svg xmlns="`+svgNS+`"`, 1)
	}
	return x.blobs.Put([]byte(markup), "image/svg+xml")
}

// collector keeps candidates in insertion order, without duplicates.
type collector struct {
	base *url.URL
	seen map[string]bool
	out  []Candidate
}

func (c *collector) add(raw string, via Via) {
	src := normalize(raw, c.base)
	if src == "" || c.seen[src] {
		return
	}
	c.seen[src] = true
	c.out = append(c.out, Candidate{Source: src, Via: via})
}

// normalize trims, rejects non-references and resolves relative urls.
// data: URIs must be images; base64 payloads pass the strict check.
func normalize(raw string, base *url.URL) string {
	s := strings.TrimSpace(raw)
	if s == "" || s == "#" || s == "about:blank" {
		return ""
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "data:"):
		if !classify.IsDataImage(s) {
			return ""
		}
		return s
	case strings.HasPrefix(lower, "blob:"):
		return s
	case strings.HasPrefix(lower, "javascript:"), strings.HasPrefix(lower, "mailto:"), strings.HasPrefix(lower, "tel:"):
		return ""
	}
	if base == nil {
		return s
	}
	ref, err := url.Parse(s)
	if err != nil {
		return s
	}
	return base.ResolveReference(ref).String()
}
