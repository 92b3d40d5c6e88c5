package watcher

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/imgscout/dom"
	"github.com/hazyhaar/imgscout/dom/htmldom"
	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/scanner"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if d, ok := ev.(event.Discovered); ok {
			out = append(out, d.Image.Source)
		}
	}
	return out
}

func (r *recorder) clears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if _, ok := ev.(event.Clear); ok {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// countingHandler counts commands and forwards them.
type countingHandler struct {
	next *scanner.Scanner
	mu   sync.Mutex
	cmds []event.Command
}

func (h *countingHandler) Handle(ctx context.Context, cmd event.Command) error {
	h.mu.Lock()
	h.cmds = append(h.cmds, cmd)
	h.mu.Unlock()
	return h.next.Handle(ctx, cmd)
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cmds)
}

func setup(t *testing.T) (*htmldom.Document, *recorder, *countingHandler, *Watcher) {
	t.Helper()
	doc, err := htmldom.ParseString(`<div id="list"><img src="first.png"></div>`, "https://site.test/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec := &recorder{}
	sc := scanner.New(rec)
	if _, err := sc.FullScan(context.Background(), doc); err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	h := &countingHandler{next: sc}
	w := New(Config{Source: doc, Handler: h, Window: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return doc, rec, h, w
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	doc, rec, h, w := setup(t)
	list := doc.Find("#list")[0]

	for _, markup := range []string{`<img src="a.png">`, `<img src="b.png">`, `<img src="a.png">`} {
		if _, err := doc.Append(list, markup); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	want := []string{"https://site.test/first.png", "https://site.test/a.png", "https://site.test/b.png"}
	waitFor(t, "incremental discoveries", func() bool { return len(rec.sources()) == len(want) })
	if got := rec.sources(); !slices.Equal(got, want) {
		t.Errorf("sources: got %q, want %q", got, want)
	}
	if n := h.count(); n != 1 {
		t.Errorf("commands: got %d, want 1 (burst coalesced)", n)
	}
	if st := w.Stats(); st.Mutations != 3 || st.Rescans != 1 {
		t.Errorf("stats: %+v", st)
	}
}

func TestWatcher_AttributeAllowList(t *testing.T) {
	doc, rec, h, _ := setup(t)
	img := doc.Find("img")[0]

	if err := doc.SetAttribute(img, "alt", "caption"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if err := doc.SetAttribute(img, "data-src", "lazy.webp"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}

	waitFor(t, "lazy source", func() bool { return slices.Contains(rec.sources(), "https://site.test/lazy.webp") })
	if n := h.count(); n != 1 {
		t.Errorf("commands: got %d, want 1", n)
	}
	h.mu.Lock()
	cmd := h.cmds[0].(event.IncrementalRescan)
	h.mu.Unlock()
	if cmd.Count(dom.Attribute) != 1 || cmd.Count(dom.Added) != 0 {
		t.Errorf("command: %+v", cmd)
	}
}

func TestWatcher_ResetTriggersFullScan(t *testing.T) {
	doc, rec, _, w := setup(t)

	if err := doc.Replace(`<img src="fresh.jpg">`); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	waitFor(t, "second clear", func() bool { return rec.clears() == 2 })
	waitFor(t, "fresh source", func() bool { return slices.Contains(rec.sources(), "https://site.test/fresh.jpg") })
	if st := w.Stats(); st.FullRescans != 1 {
		t.Errorf("full rescans: got %d, want 1", st.FullRescans)
	}
}

func TestToRescan_NotificationOrder(t *testing.T) {
	doc, err := htmldom.ParseString(`<img id="a"><img id="b">`, "https://site.test/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a, b := doc.Find("#a")[0], doc.Find("#b")[0]
	records := []dom.Mutation{
		{Kind: dom.Attribute, Target: a},
		{Kind: dom.Added, Target: b},
		{Kind: dom.Attribute, Target: a},
		{Kind: dom.Added, Target: a},
	}

	cmd := toRescan(records)
	want := []event.Change{
		{Kind: dom.Attribute, Element: a},
		{Kind: dom.Added, Element: b},
		{Kind: dom.Added, Element: a},
	}
	if len(cmd.Changes) != len(want) {
		t.Fatalf("changes: got %+v, want %+v", cmd.Changes, want)
	}
	for i, c := range cmd.Changes {
		if c.Kind != want[i].Kind || c.Element.Key() != want[i].Element.Key() {
			t.Errorf("change %d: got %v %v, want %v %v", i, c.Kind, c.Element.Key(), want[i].Kind, want[i].Element.Key())
		}
	}
}
