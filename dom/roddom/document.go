// Package roddom implements the dom interfaces over a Chrome tab driven by
// go-rod. Element identity is the CDP backend node id, which stays stable
// for the lifetime of a node and does not keep it alive. Change
// notifications come from the CDP DOM domain.
package roddom

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/imgscout/dom"
)

const (
	jsDocumentElement = `() => document.documentElement`
	jsStyleTexts      = `() => Array.from(document.querySelectorAll('style'), s => s.textContent || '')`
	jsComments        = `() => {
		const out = [];
		const w = document.createTreeWalker(document, NodeFilter.SHOW_COMMENT);
		while (w.nextNode()) out.push(w.currentNode.data);
		return out;
	}`
	jsLocation = `() => location.href`
)

// Document is a page or same-origin frame of a live tab.
type Document struct {
	page   *rod.Page
	logger *slog.Logger

	mu  sync.RWMutex
	url string
}

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the logger used for notification diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// New wraps a loaded page.
func New(ctx context.Context, page *rod.Page, opts ...Option) (*Document, error) {
	d := &Document{page: page}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	res, err := page.Context(ctx).Eval(jsLocation)
	if err != nil {
		return nil, fmt.Errorf("roddom: location: %w", err)
	}
	d.url = res.Value.Str()
	return d, nil
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page { return d.page }

// URL implements dom.Document.
func (d *Document) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Root implements dom.Document.
func (d *Document) Root(ctx context.Context) (dom.Element, error) {
	el, err := d.page.Context(ctx).ElementByJS(rod.Eval(jsDocumentElement))
	if err != nil {
		return nil, fmt.Errorf("roddom: root: %w", err)
	}
	return d.wrap(el)
}

// StyleTexts implements dom.Document.
func (d *Document) StyleTexts(ctx context.Context) ([]string, error) {
	return d.strings(ctx, jsStyleTexts)
}

// Comments implements dom.Document.
func (d *Document) Comments(ctx context.Context) ([]string, error) {
	return d.strings(ctx, jsComments)
}

func (d *Document) strings(ctx context.Context, js string) ([]string, error) {
	res, err := d.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("roddom: eval: %w", err)
	}
	arr := res.Value.Arr()
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.Str())
	}
	return out, nil
}

// wrap describes el once to learn its backend id and tag.
func (d *Document) wrap(el *rod.Element) (*element, error) {
	node, err := el.Describe(0, false)
	if err != nil {
		return nil, fmt.Errorf("roddom: describe: %w", err)
	}
	return &element{
		doc:     d,
		el:      el,
		backend: node.BackendNodeID,
		tag:     lowerTag(node),
	}, nil
}

func (d *Document) wrapAll(els rod.Elements) ([]dom.Element, error) {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		w, err := d.wrap(el)
		if err != nil {
			return out, err
		}
		out = append(out, w)
	}
	return out, nil
}
