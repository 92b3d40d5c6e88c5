package htmldom

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"weak"

	"golang.org/x/net/html"

	"github.com/hazyhaar/imgscout/dom"
)

type element struct {
	doc *Document
	n   *html.Node
}

type handle struct {
	doc *Document
	p   weak.Pointer[html.Node]
}

func (h handle) Resolve(context.Context) (dom.Element, error) {
	n := h.p.Value()
	if n == nil {
		return nil, dom.ErrDetached
	}
	h.doc.mu.RLock()
	ok := h.doc.attached(n)
	h.doc.mu.RUnlock()
	if !ok {
		return nil, dom.ErrDetached
	}
	return h.doc.wrap(n), nil
}

func (e *element) Key() any           { return weak.Make(e.n) }
func (e *element) Handle() dom.Handle { return handle{doc: e.doc, p: weak.Make(e.n)} }
func (e *element) Tag() string        { return strings.ToLower(e.n.Data) }

func (e *element) Attributes(context.Context) ([]dom.Attr, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	attrs := make([]dom.Attr, 0, len(e.n.Attr))
	for _, a := range e.n.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		attrs = append(attrs, dom.Attr{Name: name, Value: a.Val})
	}
	return attrs, nil
}

func (e *element) attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return attrOf(e.n, name)
}

func attrOf(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// Template content is not part of the rendered tree; a declarative shadow
// root template is exposed through ShadowChildren instead.
func (e *element) Children(context.Context) ([]dom.Element, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if e.n.Data == "template" {
		return nil, nil
	}
	var out []dom.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if shadowMode(c) != "" {
			continue
		}
		out = append(out, e.doc.wrap(c))
	}
	return out, nil
}

func (e *element) ShadowChildren(context.Context) ([]dom.Element, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || shadowMode(c) != "open" {
			continue
		}
		var out []dom.Element
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			if gc.Type == html.ElementNode {
				out = append(out, e.doc.wrap(gc))
			}
		}
		return out, nil
	}
	return nil, nil
}

// shadowMode returns the declarative shadow root mode of a template node.
func shadowMode(n *html.Node) string {
	if n.Type != html.ElementNode || n.Data != "template" {
		return ""
	}
	if v, ok := attrOf(n, "shadowrootmode"); ok {
		return strings.ToLower(v)
	}
	if v, ok := attrOf(n, "shadowroot"); ok {
		return strings.ToLower(v)
	}
	return ""
}

func (e *element) ContentDocument(ctx context.Context) (dom.Document, error) {
	tag := e.Tag()
	if tag != "iframe" && tag != "frame" {
		return nil, nil
	}
	if srcdoc, ok := e.attr("srcdoc"); ok {
		return e.srcdocDocument(srcdoc)
	}
	src, ok := e.attr("src")
	if !ok || strings.TrimSpace(src) == "" || strings.EqualFold(strings.TrimSpace(src), "about:blank") {
		return nil, nil
	}
	if !e.doc.sameOrigin(src) {
		return nil, dom.ErrCrossOrigin
	}
	e.doc.mu.RLock()
	frame, ok := e.doc.frames[e.doc.resolve(src)]
	e.doc.mu.RUnlock()
	if ok {
		return frame, nil
	}
	return nil, nil
}

func (e *element) srcdocDocument(srcdoc string) (dom.Document, error) {
	key := weak.Make(e.n)
	e.doc.mu.RLock()
	frame, ok := e.doc.srcdocs[key]
	e.doc.mu.RUnlock()
	if ok {
		return frame, nil
	}
	frame, err := ParseString(srcdoc, e.doc.url,
		WithCanvasEncoder(e.doc.canvas), WithStyleOracle(e.doc.style))
	if err != nil {
		return nil, err
	}
	e.doc.mu.Lock()
	if existing, ok := e.doc.srcdocs[key]; ok {
		frame = existing
	} else {
		e.doc.srcdocs[key] = frame
	}
	e.doc.mu.Unlock()
	return frame, nil
}

func (e *element) ComputedStyle(ctx context.Context, prop string) (string, error) {
	if e.doc.style != nil {
		v, err := e.doc.style(ctx, e, prop)
		if err != nil || v != "" {
			return v, err
		}
	}
	style, _ := e.attr("style")
	return inlineProperty(style, prop), nil
}

func (e *element) CanvasDataURL(ctx context.Context) (string, error) {
	if e.Tag() != "canvas" || e.doc.canvas == nil {
		return "", dom.ErrNoSurface
	}
	return e.doc.canvas(ctx, e)
}

func (e *element) OuterHTML(context.Context) (string, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, e.n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *element) Dimensions(context.Context) (int, int, bool) {
	wa, okw := e.attr("width")
	ha, okh := e.attr("height")
	if !okw || !okh {
		return 0, 0, false
	}
	w, errw := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(wa), "px"))
	h, errh := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(ha), "px"))
	if errw != nil || errh != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
