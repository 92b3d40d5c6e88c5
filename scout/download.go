package scout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/resolve"
)

// downloader saves discovered images in the background. Discoveries are
// emitted under the scanner's lock, so enqueueing never blocks: when the
// queue is full the image is dropped and logged.
type downloader struct {
	dir      string
	resolver *resolve.Resolver
	logger   *slog.Logger
	queue    chan resolve.Ref
	wg       sync.WaitGroup

	mu     sync.Mutex
	done   map[string]bool
	closed bool
}

func newDownloader(dir string, r *resolve.Resolver, logger *slog.Logger, workers int) *downloader {
	d := &downloader{
		dir:      dir,
		resolver: r,
		logger:   logger,
		queue:    make(chan resolve.Ref, 256),
		done:     make(map[string]bool),
	}
	for range workers {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// onDiscovered is a sink.Callback handler.
func (d *downloader) onDiscovered(_ context.Context, ev event.Discovered) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.done[ev.Image.Source] {
		return nil
	}

	ref := resolve.Ref{Source: ev.Image.Source, MimeType: ev.Image.MimeType, Filename: ev.Image.Filename}
	select {
	case d.queue <- ref:
		d.done[ref.Source] = true
	default:
		d.logger.Warn("scout: download queue full, dropping", "source", ref.Source)
	}
	return nil
}

func (d *downloader) work() {
	defer d.wg.Done()
	for ref := range d.queue {
		p, err := d.resolver.Resolve(context.Background(), ref)
		if err != nil {
			d.logger.Warn("scout: download failed", "source", ref.Source, "error", err)
			continue
		}
		path, err := resolve.Save(d.dir, p)
		if err != nil {
			d.logger.Warn("scout: save failed", "source", ref.Source, "error", err)
			continue
		}
		d.logger.Info("scout: saved", "path", path, "bytes", len(p.Data), "relayed", p.Relayed)
	}
}

// close drains the queue and waits for the workers.
func (d *downloader) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
