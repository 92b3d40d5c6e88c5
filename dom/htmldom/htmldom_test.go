package htmldom

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/imgscout/dom"
)

const page = `<html><head><style>body { background: url(/bg.png) }</style></head>
<body>
<!-- note -->
<div id="host" style="background-image: url('a.png'); color: red"><template shadowrootmode="open"><span id="inner"></span></template><p id="light"></p></div>
<iframe id="same" srcdoc="&lt;img src=f.png&gt;"></iframe>
<iframe id="other" src="https://elsewhere.test/"></iframe>
<img id="sized" width="120px" height="80">
</body></html>`

func mustParse(t *testing.T, markup string, opts ...Option) *Document {
	t.Helper()
	d, err := ParseString(markup, "https://site.test/dir/page.html", opts...)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d
}

func one(t *testing.T, d *Document, sel string) dom.Element {
	t.Helper()
	els := d.Find(sel)
	if len(els) != 1 {
		t.Fatalf("Find(%q): %d elements", sel, len(els))
	}
	return els[0]
}

func TestDocument_Texts(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()

	root, err := d.Root(ctx)
	if err != nil || root.Tag() != "html" {
		t.Fatalf("Root: %v %v", root, err)
	}
	styles, _ := d.StyleTexts(ctx)
	if len(styles) != 1 || !strings.Contains(styles[0], "url(/bg.png)") {
		t.Errorf("StyleTexts: %q", styles)
	}
	comments, _ := d.Comments(ctx)
	if len(comments) != 1 || strings.TrimSpace(comments[0]) != "note" {
		t.Errorf("Comments: %q", comments)
	}
}

func TestElement_ShadowChildren(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()
	host := one(t, d, "#host")

	children, _ := host.Children(ctx)
	if len(children) != 1 || children[0].Tag() != "p" {
		t.Errorf("Children: %d", len(children))
	}
	shadow, _ := host.ShadowChildren(ctx)
	if len(shadow) != 1 || shadow[0].Tag() != "span" {
		t.Errorf("ShadowChildren: %d", len(shadow))
	}
}

func TestElement_ComputedStyle(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()
	host := one(t, d, "#host")

	if v, _ := host.ComputedStyle(ctx, "background-image"); v != "url('a.png')" {
		t.Errorf("background-image: %q", v)
	}
	if v, _ := host.ComputedStyle(ctx, "mask-image"); v != "" {
		t.Errorf("mask-image: %q", v)
	}

	oracle := func(_ context.Context, _ dom.Element, prop string) (string, error) {
		if prop == "mask-image" {
			return `url("m.svg")`, nil
		}
		return "", nil
	}
	d = mustParse(t, page, WithStyleOracle(oracle))
	host = one(t, d, "#host")
	if v, _ := host.ComputedStyle(ctx, "mask-image"); v != `url("m.svg")` {
		t.Errorf("oracle mask-image: %q", v)
	}
	if v, _ := host.ComputedStyle(ctx, "background-image"); v != "url('a.png')" {
		t.Errorf("inline fallback: %q", v)
	}
}

func TestElement_ContentDocument(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()

	frame, err := one(t, d, "#same").ContentDocument(ctx)
	if err != nil || frame == nil {
		t.Fatalf("srcdoc frame: %v %v", frame, err)
	}
	again, _ := one(t, d, "#same").ContentDocument(ctx)
	if again != frame {
		t.Error("srcdoc frame not cached")
	}
	if _, err := one(t, d, "#other").ContentDocument(ctx); !errors.Is(err, dom.ErrCrossOrigin) {
		t.Errorf("cross-origin frame: %v", err)
	}
	if doc, err := one(t, d, "#sized").ContentDocument(ctx); doc != nil || err != nil {
		t.Errorf("img ContentDocument: %v %v", doc, err)
	}
}

func TestElement_Dimensions(t *testing.T) {
	d := mustParse(t, page)
	w, h, ok := one(t, d, "#sized").Dimensions(context.Background())
	if !ok || w != 120 || h != 80 {
		t.Errorf("Dimensions: %d %d %v", w, h, ok)
	}
	if _, _, ok := one(t, d, "#host").Dimensions(context.Background()); ok {
		t.Error("host has no dimensions")
	}
}

func TestHandle_Detached(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()
	el := one(t, d, "#light")
	h := el.Handle()

	got, err := h.Resolve(ctx)
	if err != nil || got.Key() != el.Key() {
		t.Fatalf("Resolve: %v", err)
	}
	if err := d.Remove(el); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := h.Resolve(ctx); !errors.Is(err, dom.ErrDetached) {
		t.Errorf("after Remove: %v", err)
	}
}

func TestElement_CanvasWithoutEncoder(t *testing.T) {
	d := mustParse(t, `<canvas></canvas>`)
	if _, err := one(t, d, "canvas").CanvasDataURL(context.Background()); !errors.Is(err, dom.ErrNoSurface) {
		t.Errorf("CanvasDataURL: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	d := mustParse(t, page)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := d.Subscribe(ctx, []string{"src"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	host := one(t, d, "#host")

	added, err := d.Append(host, `<img id="new" src="n.png">text`)
	if err != nil || len(added) != 1 {
		t.Fatalf("Append: %d %v", len(added), err)
	}
	if err := d.SetAttribute(added[0], "alt", "x"); err != nil {
		t.Fatal(err)
	}
	if err := d.SetAttribute(added[0], "SRC", "m.png"); err != nil {
		t.Fatal(err)
	}

	recv := func() []dom.Mutation {
		select {
		case b := <-ch:
			return b
		case <-time.After(time.Second):
			t.Fatal("no notification")
			return nil
		}
	}
	if b := recv(); len(b) != 1 || b[0].Kind != dom.Added || b[0].Target.Key() != added[0].Key() {
		t.Errorf("first batch: %+v", b)
	}
	if b := recv(); len(b) != 1 || b[0].Kind != dom.Attribute || b[0].Name != "src" {
		t.Errorf("second batch: %+v", b)
	}
	if !strings.Contains(d.HTML(), `src="m.png"`) {
		t.Error("attribute not updated in tree")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected batch after cancel")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after cancel")
	}
}
