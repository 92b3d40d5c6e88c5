package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/imgscout/event"
)

// gated blocks every Emit until release is closed.
type gated struct {
	release chan struct{}

	mu     sync.Mutex
	got    []event.Event
	closed bool
}

func newGated() *gated { return &gated{release: make(chan struct{})} }

func (g *gated) Emit(_ context.Context, ev event.Event) error {
	<-g.release
	g.mu.Lock()
	g.got = append(g.got, ev)
	g.mu.Unlock()
	return nil
}

func (g *gated) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

func (g *gated) events() []event.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]event.Event(nil), g.got...)
}

func TestAsync_EmitDoesNotWaitForSink(t *testing.T) {
	g := newGated()
	a := NewAsync(g, 8, nil)
	defer func() { close(g.release); a.Close() }()

	done := make(chan struct{})
	go func() {
		ctx := context.Background()
		a.Emit(ctx, event.Clear{Epoch: 1})
		a.Emit(ctx, event.Discovered{Epoch: 1, Image: img("https://x/a.png", "a.png", "image/png", 1)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a stalled sink")
	}
}

func TestAsync_OrderAndFlush(t *testing.T) {
	g := newGated()
	close(g.release)
	a := NewAsync(g, 0, nil)
	defer a.Close()

	ctx := context.Background()
	a.Emit(ctx, event.Clear{Epoch: 1})
	a.Emit(ctx, event.Discovered{Epoch: 1, Image: img("https://x/a.png", "a.png", "image/png", 1)})
	a.Emit(ctx, event.Discovered{Epoch: 1, Image: img("https://x/b.png", "b.png", "image/png", 2)})
	a.Emit(ctx, event.ScanComplete{Epoch: 1, Discovered: 2})
	if err := a.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	var types []string
	for _, ev := range g.events() {
		types = append(types, event.TypeOf(ev))
	}
	want := []string{"clear", "discovered", "discovered", "scan_complete"}
	if len(types) != len(want) {
		t.Fatalf("delivered %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("delivered %v, want %v", types, want)
		}
	}
	if d := g.events()[2].(event.Discovered); d.Image.Source != "https://x/b.png" {
		t.Errorf("third event = %+v", d)
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	g := newGated()
	a := NewAsync(g, 1, nil)

	ctx := context.Background()
	for i := range 5 {
		a.Emit(ctx, event.Clear{Epoch: uint64(i + 1)})
	}
	if a.Dropped() == 0 {
		t.Error("expected drops with a one-slot queue and a stalled sink")
	}
	close(g.release)
	a.Close()
}

func TestAsync_CloseDrains(t *testing.T) {
	g := newGated()
	a := NewAsync(g, 8, nil)

	ctx := context.Background()
	a.Emit(ctx, event.Clear{Epoch: 1})
	a.Emit(ctx, event.ScanComplete{Epoch: 1})
	close(g.release)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(g.events()); n != 2 {
		t.Errorf("delivered %d events before close, want 2", n)
	}
	if !g.closed {
		t.Error("inner sink not closed")
	}

	// Emits and flushes after close are no-ops.
	if err := a.Emit(ctx, event.Clear{Epoch: 2}); err != nil {
		t.Errorf("emit after close: %v", err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Errorf("flush after close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestAsync_CancelledEmitterStillDelivers(t *testing.T) {
	var seen context.Context
	cb := &Callback{OnClear: func(ctx context.Context, _ event.Clear) error {
		seen = ctx
		return nil
	}}
	a := NewAsync(cb, 0, nil)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Emit(ctx, event.Clear{Epoch: 1})
	if err := a.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if seen == nil || seen.Err() != nil {
		t.Errorf("delivery ctx = %v", seen)
	}
}
