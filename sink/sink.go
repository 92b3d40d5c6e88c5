// Package sink holds the consumers of the scanner's event stream: JSON
// lines, webhooks, in-process callbacks, the gallery model and the SQLite
// history. Every sink implements scanner.Emitter.
package sink

import (
	"context"

	"github.com/hazyhaar/imgscout/event"
)

// Sink receives events in emission order. Consumers must treat Clear as
// "drop everything" and upsert Discovered by source.
type Sink interface {
	Emit(ctx context.Context, ev event.Event) error
	Close() error
}
