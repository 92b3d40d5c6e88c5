package scout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/imgscout/dom"
	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/scanner"
	"github.com/hazyhaar/imgscout/scout/internal/browser"
	"github.com/hazyhaar/imgscout/sink"
	"github.com/hazyhaar/imgscout/watcher"
)

// Session is one page under scan: its document, scanner, optional watcher,
// and the gallery holding the current epoch's images.
type Session struct {
	ID    string
	URL   string
	Level browser.StealthLevel

	page    PageConfig
	scout   *Scout
	scanner *scanner.Scanner
	gallery *sink.Gallery
	store   *sink.Store
	record  *sink.Async // queues history writes to store
	router  *sink.Router
	logger  *slog.Logger

	mu      sync.Mutex
	doc     dom.Document
	tab     *browser.Tab
	watch   *watcher.Watcher
	cancel  context.CancelFunc
	last    scanner.Summary
	scanErr error
}

// Status is a point-in-time view of a session.
type Status struct {
	ID       string          `json:"session_id"`
	URL      string          `json:"url"`
	Level    string          `json:"level"`
	Epoch    uint64          `json:"epoch"`
	State    string          `json:"state"`
	Images   int             `json:"images"`
	Complete bool            `json:"complete"`
	Watching bool            `json:"watching"`
	Last     scanner.Summary `json:"last_scan"`
	Error    string          `json:"last_error,omitempty"`
	Watcher  *watcher.Stats  `json:"watcher,omitempty"`
	ScanID   string          `json:"history_scan_id,omitempty"`
}

// Rescan runs a full scan of the current document.
func (s *Session) Rescan(ctx context.Context) (scanner.Summary, error) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	if doc == nil {
		return scanner.Summary{}, fmt.Errorf("scout: session %s has no document", s.ID)
	}

	sum, err := s.scanner.FullScan(ctx, doc)

	s.mu.Lock()
	s.last, s.scanErr = sum, err
	s.mu.Unlock()
	return sum, err
}

// Handle passes an inbound command to the scanner.
func (s *Session) Handle(ctx context.Context, cmd event.Command) error {
	return s.scanner.Handle(ctx, cmd)
}

// Images lists the current epoch's images.
func (s *Session) Images(q sink.Query) []event.DiscoveredImage {
	return s.gallery.Items(q)
}

// Gallery exposes the presentation model of the session.
func (s *Session) Gallery() *sink.Gallery { return s.gallery }

// Status reports the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:       s.ID,
		URL:      s.URL,
		Level:    s.Level.String(),
		Watching: s.watch != nil,
		Last:     s.last,
	}
	if s.scanErr != nil {
		st.Error = s.scanErr.Error()
	}
	if s.watch != nil {
		ws := s.watch.Stats()
		st.Watcher = &ws
	}
	s.mu.Unlock()

	st.Epoch = s.scanner.Epoch()
	st.State = s.scanner.State().String()
	st.Images = s.gallery.Len()
	st.Complete = s.gallery.Complete()
	if s.store != nil {
		st.ScanID = s.store.CurrentScan()
	}
	return st
}

// startWatch subscribes to the document's mutations when it supports them.
func (s *Session) startWatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch != nil {
		return nil
	}
	src, ok := s.doc.(dom.MutationSource)
	if !ok {
		return fmt.Errorf("scout: document of %s cannot be watched", s.ID)
	}

	cfg := s.scout.cfg
	w := watcher.New(watcher.Config{
		Source:     src,
		Handler:    s.scanner,
		Attributes: s.page.Attributes,
		Window:     cfg.Debounce.Window,
		MaxBuffer:  cfg.Debounce.MaxBuffer,
		Logger:     s.logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		return err
	}
	s.watch, s.cancel = w, cancel
	return nil
}

func (s *Session) stopWatch() {
	s.mu.Lock()
	w, cancel := s.watch, s.cancel
	s.watch, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-w.Done()
	}
}

func (s *Session) close() error {
	s.stopWatch()
	s.mu.Lock()
	tab := s.tab
	s.tab = nil
	s.mu.Unlock()
	var err error
	if tab != nil {
		err = tab.Close()
	}
	if s.record != nil {
		s.record.Close()
	}
	return err
}
