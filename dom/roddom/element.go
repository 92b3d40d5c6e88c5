package roddom

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/imgscout/dom"
)

const (
	jsChildren      = `() => Array.from(this.children)`
	jsComputedStyle = `(p) => getComputedStyle(this).getPropertyValue(p)`
	jsCanvasDataURL = `() => this.toDataURL('image/png')`
	jsConnected     = `() => this.isConnected`
	jsFrameReadable = `() => { try { return !!(this.contentDocument && this.contentDocument.documentElement) } catch (e) { return false } }`

	// Intrinsic sizes only: naturalWidth and canvas width never force layout.
	jsDimensions = `() => {
		const t = this;
		if (t instanceof HTMLImageElement) return [t.naturalWidth, t.naturalHeight];
		if (t instanceof HTMLCanvasElement) return [t.width, t.height];
		if (t instanceof HTMLVideoElement) return [t.videoWidth, t.videoHeight];
		return [parseInt(t.getAttribute('width')) || 0, parseInt(t.getAttribute('height')) || 0];
	}`
)

// nodeKey is the comparable identity of an element.
type nodeKey struct {
	backend proto.DOMBackendNodeID
}

type element struct {
	doc     *Document
	el      *rod.Element
	backend proto.DOMBackendNodeID
	tag     string
}

type handle struct {
	doc     *Document
	backend proto.DOMBackendNodeID
}

// Resolve looks the node up again by backend id.
func (h handle) Resolve(ctx context.Context) (dom.Element, error) {
	el, err := h.doc.page.Context(ctx).ElementFromNode(&proto.DOMNode{BackendNodeID: h.backend})
	if err != nil {
		return nil, dom.ErrDetached
	}
	res, err := el.Eval(jsConnected)
	if err != nil || !res.Value.Bool() {
		return nil, dom.ErrDetached
	}
	return &element{doc: h.doc, el: el, backend: h.backend}, nil
}

func (e *element) Key() any           { return nodeKey{backend: e.backend} }
func (e *element) Handle() dom.Handle { return handle{doc: e.doc, backend: e.backend} }

func (e *element) Tag() string {
	if e.tag == "" {
		if node, err := e.el.Describe(0, false); err == nil {
			e.tag = lowerTag(node)
		}
	}
	return e.tag
}

func (e *element) Attributes(ctx context.Context) ([]dom.Attr, error) {
	node, err := e.el.Context(ctx).Describe(0, false)
	if err != nil {
		return nil, fmt.Errorf("roddom: attributes: %w", err)
	}
	return pairs(node.Attributes), nil
}

func (e *element) Children(ctx context.Context) ([]dom.Element, error) {
	els, err := e.el.Context(ctx).ElementsByJS(rod.Eval(jsChildren))
	if err != nil {
		return nil, fmt.Errorf("roddom: children: %w", err)
	}
	return e.doc.wrapAll(els)
}

// ShadowChildren returns the children of an open shadow root. User-agent
// and closed roots are not part of the page's own content.
func (e *element) ShadowChildren(ctx context.Context) ([]dom.Element, error) {
	el := e.el.Context(ctx)
	node, err := el.Describe(1, false)
	if err != nil {
		return nil, fmt.Errorf("roddom: describe: %w", err)
	}
	if len(node.ShadowRoots) == 0 || node.ShadowRoots[0].ShadowRootType != proto.DOMShadowRootTypeOpen {
		return nil, nil
	}
	root, err := el.ShadowRoot()
	if err != nil {
		var none *rod.NoShadowRootError
		if errors.As(err, &none) {
			return nil, nil
		}
		return nil, fmt.Errorf("roddom: shadow root: %w", err)
	}
	els, err := root.ElementsByJS(rod.Eval(jsChildren))
	if err != nil {
		return nil, fmt.Errorf("roddom: shadow children: %w", err)
	}
	return e.doc.wrapAll(els)
}

func (e *element) ContentDocument(ctx context.Context) (dom.Document, error) {
	if t := e.Tag(); t != "iframe" && t != "frame" {
		return nil, nil
	}
	el := e.el.Context(ctx)
	res, err := el.Eval(jsFrameReadable)
	if err != nil {
		return nil, fmt.Errorf("roddom: frame: %w", err)
	}
	if !res.Value.Bool() {
		return nil, dom.ErrCrossOrigin
	}
	frame, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("roddom: frame: %w", err)
	}
	return New(ctx, frame, WithLogger(e.doc.logger))
}

func (e *element) ComputedStyle(ctx context.Context, prop string) (string, error) {
	res, err := e.el.Context(ctx).Eval(jsComputedStyle, prop)
	if err != nil {
		return "", fmt.Errorf("roddom: computed style %s: %w", prop, err)
	}
	return strings.TrimSpace(res.Value.Str()), nil
}

// CanvasDataURL maps the SecurityError of a tainted canvas to dom.ErrTainted.
func (e *element) CanvasDataURL(ctx context.Context) (string, error) {
	if e.Tag() != "canvas" {
		return "", dom.ErrNoSurface
	}
	res, err := e.el.Context(ctx).Eval(jsCanvasDataURL)
	if err != nil {
		var evalErr *rod.EvalError
		if errors.As(err, &evalErr) {
			return "", fmt.Errorf("%w: %v", dom.ErrTainted, err)
		}
		return "", fmt.Errorf("roddom: canvas: %w", err)
	}
	s := res.Value.Str()
	if s == "" || s == "data:," {
		return "", dom.ErrNoSurface
	}
	return s, nil
}

func (e *element) OuterHTML(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("roddom: outer html: %w", err)
	}
	return s, nil
}

func (e *element) Dimensions(ctx context.Context) (int, int, bool) {
	res, err := e.el.Context(ctx).Eval(jsDimensions)
	if err != nil {
		return 0, 0, false
	}
	arr := res.Value.Arr()
	if len(arr) != 2 {
		return 0, 0, false
	}
	w, h := arr[0].Int(), arr[1].Int()
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// pairs turns the flat CDP attribute list into name/value pairs.
func pairs(flat []string) []dom.Attr {
	out := make([]dom.Attr, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out = append(out, dom.Attr{Name: flat[i], Value: flat[i+1]})
	}
	return out
}

func lowerTag(node *proto.DOMNode) string {
	if node.LocalName != "" {
		return strings.ToLower(node.LocalName)
	}
	return strings.ToLower(node.NodeName)
}
