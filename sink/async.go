package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/imgscout/event"
)

// DefaultQueueSize is the buffer of an Async sink when none is given.
const DefaultQueueSize = 1024

type queued struct {
	ctx   context.Context
	ev    event.Event
	flush chan struct{}
}

// Async decouples a slow sink from the emitter. Events are queued and
// delivered to the inner sink by one goroutine, in emission order. When the
// queue is full the event is dropped and counted; Emit never blocks.
type Async struct {
	inner  Sink
	logger *slog.Logger
	ch     chan queued
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsync starts the delivery goroutine for inner. size <= 0 uses
// DefaultQueueSize.
func NewAsync(inner Sink, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		inner:  inner,
		logger: logger,
		ch:     make(chan queued, size),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// Emit queues ev. The caller's cancellation does not reach delivery; its
// values do.
func (a *Async) Emit(ctx context.Context, ev event.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.ch <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("sink: queue full, event dropped",
			"type", event.TypeOf(ev), "epoch", ev.EpochID(), "dropped", n)
	}
	return nil
}

// Flush waits until every event queued before the call was delivered.
func (a *Async) Flush(ctx context.Context) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil
	}
	mark := make(chan struct{})
	select {
	case a.ch <- queued{flush: mark}:
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}
	a.mu.RUnlock()

	select {
	case <-mark:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many events were lost to a full queue.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close delivers what is queued, then closes the inner sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	return a.inner.Close()
}

func (a *Async) loop() {
	defer close(a.done)
	for q := range a.ch {
		if q.flush != nil {
			close(q.flush)
			continue
		}
		if err := a.inner.Emit(q.ctx, q.ev); err != nil {
			a.logger.Warn("sink: async emit failed", "type", event.TypeOf(q.ev), "error", err)
		}
	}
}
