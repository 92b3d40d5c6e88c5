// Package watcher feeds page mutations back into the scanner. It subscribes
// to a dom.MutationSource, debounces the notifications, and turns each
// flushed run into one incremental rescan. A document reset becomes a full
// scan. The watcher never touches scan state itself; it only hands commands
// to its Handler.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/imgscout/dom"
	"github.com/hazyhaar/imgscout/event"
)

// DefaultAttributes is the attribute allow-list for change notifications.
var DefaultAttributes = []string{"src", "style", "data-src"}

// Handler receives the commands produced by the watcher. *scanner.Scanner
// implements it.
type Handler interface {
	Handle(ctx context.Context, cmd event.Command) error
}

// Config for creating a Watcher.
type Config struct {
	Source     dom.MutationSource
	Handler    Handler
	Attributes []string // default DefaultAttributes
	Window     time.Duration
	MaxBuffer  int
	Logger     *slog.Logger
}

// Stats counts what a watcher did since it started.
type Stats struct {
	Mutations   uint64 `json:"mutations"`
	Rescans     uint64 `json:"rescans"`
	FullRescans uint64 `json:"full_rescans"`
}

// Watcher runs one subscription.
type Watcher struct {
	src     dom.MutationSource
	handler Handler
	attrs   []string
	allowed map[string]bool
	logger  *slog.Logger

	debouncer *debouncer
	ctx       context.Context
	done      chan struct{}

	mutations   atomic.Uint64
	rescans     atomic.Uint64
	fullRescans atomic.Uint64
}

// New creates a Watcher. Call Start or Run to begin.
func New(cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Attributes) == 0 {
		cfg.Attributes = DefaultAttributes
	}
	w := &Watcher{
		src:     cfg.Source,
		handler: cfg.Handler,
		attrs:   slices.Clone(cfg.Attributes),
		allowed: make(map[string]bool, len(cfg.Attributes)),
		logger:  cfg.Logger,
	}
	for _, a := range cfg.Attributes {
		w.allowed[a] = true
	}
	w.debouncer = newDebouncer(debounceConfig{
		Window:    cfg.Window,
		MaxBuffer: cfg.MaxBuffer,
	}, w.onFlush)
	return w
}

// Start subscribes and processes notifications in a goroutine until ctx is
// done or the source closes its channel. Pending mutations are flushed when
// the source closes; they are dropped when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	ch, err := w.src.Subscribe(ctx, w.attrs)
	if err != nil {
		return fmt.Errorf("watcher: subscribe: %w", err)
	}
	w.ctx = ctx
	w.done = make(chan struct{})
	w.logger.Debug("watcher: subscribed", "attributes", w.attrs)

	go func() {
		defer close(w.done)
		w.loop(ctx, ch)
	}()
	return nil
}

// Run is Start followed by waiting for the loop to end.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-w.done
	return nil
}

// Done is closed when the loop started by Start has returned.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) loop(ctx context.Context, ch <-chan []dom.Mutation) {
	for {
		select {
		case <-ctx.Done():
			w.debouncer.discard()
			return

		case batch, ok := <-ch:
			if !ok {
				w.debouncer.flush()
				w.logger.Debug("watcher: source closed")
				return
			}
			for _, m := range batch {
				w.mutations.Add(1)
				switch m.Kind {
				case dom.Reset:
					w.debouncer.discard()
					w.reset(ctx)
				case dom.Attribute:
					if m.Target != nil && w.allowed[m.Name] {
						w.debouncer.add(m)
					}
				case dom.Added:
					if m.Target != nil {
						w.debouncer.add(m)
					}
				}
			}

		case <-w.debouncer.timerC():
			w.debouncer.flush()
		}
	}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Mutations:   w.mutations.Load(),
		Rescans:     w.rescans.Load(),
		FullRescans: w.fullRescans.Load(),
	}
}

func (w *Watcher) reset(ctx context.Context) {
	w.fullRescans.Add(1)
	w.logger.Info("watcher: document reset, full rescan")
	if err := w.handler.Handle(ctx, event.FullScan{}); err != nil {
		w.logger.Warn("watcher: full rescan", "error", err)
	}
}

// onFlush turns a compressed run into one rescan. Elements keep the order
// of their first notification.
func (w *Watcher) onFlush(records []dom.Mutation) {
	cmd := toRescan(records)
	if cmd.Empty() {
		return
	}
	w.rescans.Add(1)
	if err := w.handler.Handle(w.ctx, cmd); err != nil {
		w.logger.Warn("watcher: incremental rescan", "error", err,
			"added", cmd.Count(dom.Added), "changed", cmd.Count(dom.Attribute))
	}
}

func toRescan(records []dom.Mutation) event.IncrementalRescan {
	type seenKey struct {
		kind dom.MutationKind
		key  any
	}
	var cmd event.IncrementalRescan
	seen := make(map[seenKey]bool)
	for _, m := range records {
		if m.Kind != dom.Added && m.Kind != dom.Attribute {
			continue
		}
		k := seenKey{m.Kind, m.Target.Key()}
		if seen[k] {
			continue
		}
		seen[k] = true
		cmd.Changes = append(cmd.Changes, event.Change{Kind: m.Kind, Element: m.Target})
	}
	return cmd
}
