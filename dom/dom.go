// Package dom defines the boundary between the scanning engine and a live
// page. Everything the engine knows about a page comes through these
// interfaces: element attributes, computed style, raster surfaces and change
// notifications. Back-ends live in subpackages (htmldom for parsed HTML,
// roddom for a Chrome tab driven over CDP).
package dom

import (
	"context"
	"errors"
)

var (
	// ErrTainted is returned by CanvasDataURL when the surface holds
	// cross-origin pixels and cannot be read back.
	ErrTainted = errors.New("dom: canvas is tainted")

	// ErrNoSurface is returned by CanvasDataURL when the element has no
	// readable raster surface.
	ErrNoSurface = errors.New("dom: element has no raster surface")

	// ErrCrossOrigin is returned by ContentDocument when the frame's
	// document is not readable from the host page.
	ErrCrossOrigin = errors.New("dom: cross-origin frame")

	// ErrDetached is returned by Handle.Resolve when the element is gone.
	ErrDetached = errors.New("dom: element detached")
)

// Attr is a single element attribute.
type Attr struct {
	Name  string
	Value string
}

// Document is a page (or frame) whose element tree can be walked.
type Document interface {
	// URL is the document address, used to resolve relative references.
	URL() string
	// Root returns the document element.
	Root(ctx context.Context) (Element, error)
	// StyleTexts returns the text content of every <style> element.
	StyleTexts(ctx context.Context) ([]string, error)
	// Comments returns the data of every comment node.
	Comments(ctx context.Context) ([]string, error)
}

// Element is one element node. Implementations must not make the page keep
// nodes alive on the engine's behalf: Key and Handle are non-owning.
type Element interface {
	// Key is a comparable identity, stable for the lifetime of the node.
	Key() any
	// Handle returns a weak back-reference to this element.
	Handle() Handle
	// Tag is the lower-case tag name.
	Tag() string

	Attributes(ctx context.Context) ([]Attr, error)
	Children(ctx context.Context) ([]Element, error)
	// ShadowChildren returns the children of an open shadow root, or nil.
	ShadowChildren(ctx context.Context) ([]Element, error)
	// ContentDocument returns the document of an iframe/frame element.
	// It returns ErrCrossOrigin when the document is not readable and
	// (nil, nil) when the element has no document.
	ContentDocument(ctx context.Context) (Document, error)
	// ComputedStyle returns the resolved value of a CSS property.
	ComputedStyle(ctx context.Context, prop string) (string, error)
	// CanvasDataURL encodes a canvas surface as a data: URI.
	CanvasDataURL(ctx context.Context) (string, error)
	// OuterHTML serialises the element and its subtree.
	OuterHTML(ctx context.Context) (string, error)
	// Dimensions returns width and height when known without layout.
	Dimensions(ctx context.Context) (w, h int, ok bool)
}

// Handle is a weak reference to an element. Resolve returns ErrDetached
// once the page has dropped the node.
type Handle interface {
	Resolve(ctx context.Context) (Element, error)
}

// Synthetic is the origin of sources found outside any element (style
// sheet text, comments). It never resolves.
type Synthetic struct {
	Container string
}

func (s Synthetic) Resolve(context.Context) (Element, error) { return nil, ErrDetached }

// MutationKind classifies a change notification.
type MutationKind int

const (
	// Added means Target was inserted (with its subtree).
	Added MutationKind = iota
	// Attribute means Target's attribute Name changed.
	Attribute
	// Reset means the whole document was replaced.
	Reset
)

func (k MutationKind) String() string {
	switch k {
	case Added:
		return "added"
	case Attribute:
		return "attribute"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Mutation is a single change notification.
type Mutation struct {
	Kind   MutationKind
	Target Element
	Name   string
}

// MutationSource delivers change notifications in batches. The channel is
// closed when ctx is done or the source shuts down. Attribute changes are
// limited to the names in attrs.
type MutationSource interface {
	Subscribe(ctx context.Context, attrs []string) (<-chan []Mutation, error)
}
