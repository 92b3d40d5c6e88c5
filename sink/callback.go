package sink

import (
	"context"

	"github.com/hazyhaar/imgscout/event"
)

// Callback delivers events to Go functions in-process. Any handler may be
// nil.
type Callback struct {
	OnClear      func(ctx context.Context, ev event.Clear) error
	OnDiscovered func(ctx context.Context, ev event.Discovered) error
	OnComplete   func(ctx context.Context, ev event.ScanComplete) error
}

func (c *Callback) Emit(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.Clear:
		if c.OnClear != nil {
			return c.OnClear(ctx, e)
		}
	case event.Discovered:
		if c.OnDiscovered != nil {
			return c.OnDiscovered(ctx, e)
		}
	case event.ScanComplete:
		if c.OnComplete != nil {
			return c.OnComplete(ctx, e)
		}
	}
	return nil
}

func (c *Callback) Close() error { return nil }
