// Package scout runs imgscout against real pages. It acquires each page
// over plain HTTP or through Chrome, feeds it to a Scanner, keeps a watcher
// on live pages, fans events out to sinks, and resolves discovered sources
// for download.
package scout

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/imgscout/blob"
	"github.com/hazyhaar/imgscout/dom"
	"github.com/hazyhaar/imgscout/dom/htmldom"
	"github.com/hazyhaar/imgscout/dom/roddom"
	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/extract"
	"github.com/hazyhaar/imgscout/idgen"
	"github.com/hazyhaar/imgscout/relay"
	"github.com/hazyhaar/imgscout/resolve"
	"github.com/hazyhaar/imgscout/scanner"
	"github.com/hazyhaar/imgscout/scout/internal/browser"
	"github.com/hazyhaar/imgscout/scout/internal/fetcher"
	"github.com/hazyhaar/imgscout/sink"
)

// ErrUnknownSession is returned for session ids that are not open.
var ErrUnknownSession = errors.New("scout: unknown session")

// maxFrameDepth bounds how deep same-origin iframes are fetched on the
// HTTP path.
const maxFrameDepth = 2

// Scout owns the browser, the shared blob registry and resolver, and the
// open sessions.
type Scout struct {
	cfg        *Config
	mgr        *browser.Manager
	fetch      *fetcher.Fetcher
	httpClient *http.Client
	blobs      *blob.Store
	resolver   *resolve.Resolver
	history    *sql.DB
	sinks      []sink.Sink
	download   *downloader
	newID      idgen.Generator
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Scout.
type Option func(*Scout)

// WithSink adds a sink receiving the events of every session. It runs
// inline with the scanner; wrap slow sinks with sink.NewAsync.
func WithSink(s sink.Sink) Option {
	return func(sc *Scout) { sc.sinks = append(sc.sinks, s) }
}

// WithHTTPClient sets the client used for page fetches and direct downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(sc *Scout) {
		sc.fetch = fetcher.New(fetcher.WithClient(c), fetcher.WithLogger(sc.logger))
		sc.httpClient = c
	}
}

// New creates a Scout from cfg. Chrome is not launched until a page needs it.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Scout, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scout{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Headful:          cfg.Browser.Stealth == "headful",
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			Logger:           logger,
		}),
		fetch:    fetcher.New(fetcher.WithLogger(logger)),
		blobs:    blob.NewStore(cfg.Scan.BlobLimit),
		newID:    idgen.Prefixed("ses_", idgen.Default),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(s)
	}

	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			s.sinks = append(s.sinks, sink.NewAsync(sink.NewStdout(os.Stdout), sc.Queue, logger))
		case "webhook":
			s.sinks = append(s.sinks, sink.NewAsync(
				sink.NewWebhook(sc.URL, sink.WithWebhookLogger(logger)), sc.Queue, logger))
		}
	}

	ropts := []resolve.Option{resolve.WithBlobs(s.blobs), resolve.WithLogger(logger)}
	if s.httpClient != nil {
		ropts = append(ropts, resolve.WithClient(s.httpClient))
	}
	if u := s.relayURL(); u != "" {
		ropts = append(ropts, resolve.WithRelay(relay.NewClient(u, nil)))
	}
	s.resolver = resolve.New(ropts...)

	if cfg.History.Path != "" {
		db, err := sink.OpenStore(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		s.history = db
	}
	if cfg.DownloadDir != "" {
		s.download = newDownloader(cfg.DownloadDir, s.resolver, logger, 4)
	}

	s.mgr.SetRecycleHooks(browser.RecycleHooks{
		Before: s.detachLive,
		After:  s.reattachLive,
	})
	return s, nil
}

func (s *Scout) relayURL() string {
	if s.cfg.Relay.URL != "" {
		return s.cfg.Relay.URL
	}
	if s.cfg.Relay.Listen != "" {
		return "http://" + s.cfg.Relay.Listen
	}
	return ""
}

// Resolver returns the shared resolver.
func (s *Scout) Resolver() *resolve.Resolver { return s.resolver }

// Start prunes history, starts the relay when configured, and opens every
// configured page. Pages that fail to open are logged and skipped.
func (s *Scout) Start(ctx context.Context) error {
	if s.history != nil && s.cfg.History.Retention > 0 {
		store := sink.NewStore(s.history, "", s.logger)
		if n, err := store.Prune(ctx, time.Now().Add(-s.cfg.History.Retention)); err != nil {
			s.logger.Warn("scout: prune history", "error", err)
		} else if n > 0 {
			s.logger.Info("scout: pruned history", "scans", n)
		}
	}

	if s.cfg.Relay.Listen != "" {
		srv := relay.NewServer(relay.Config{
			AllowPrivate: s.cfg.Relay.AllowPrivate,
			RateLimit:    s.cfg.Relay.RateLimit,
			Logger:       s.logger,
		})
		go func() {
			if err := srv.ListenAndServe(ctx, s.cfg.Relay.Listen); err != nil {
				s.logger.Error("scout: relay stopped", "error", err)
			}
		}()
	}

	for _, page := range s.cfg.Pages {
		if _, err := s.Open(ctx, page); err != nil {
			s.logger.Error("scout: failed to open page", "url", page.URL, "error", err)
		}
	}
	return nil
}

// Open acquires a page, runs a first full scan and, when page.Watch is set
// on a live page, starts watching it. Reopening an id rescans the existing
// session.
func (s *Scout) Open(ctx context.Context, page PageConfig) (*Session, error) {
	if page.URL == "" {
		return nil, fmt.Errorf("scout: page has no url")
	}
	if page.StealthLevel == "" {
		page.StealthLevel = "auto"
	}
	if page.ID == "" {
		page.ID = s.newID()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("scout: closed")
	}
	existing := s.sessions[page.ID]
	s.mu.Unlock()
	if existing != nil {
		_, err := existing.Rescan(ctx)
		return existing, err
	}

	level, fetched, err := s.pickLevel(ctx, page)
	if err != nil {
		return nil, err
	}

	sess := s.newSession(page, level)
	if level == browser.LevelHTTP {
		if fetched == nil {
			if fetched, err = s.fetch.Fetch(ctx, page.URL); err != nil {
				sess.close()
				return nil, err
			}
		}
		doc, err := s.parse(ctx, fetched, 0)
		if err != nil {
			sess.close()
			return nil, err
		}
		sess.URL = fetched.URL
		sess.doc = doc
	} else if err := s.attachTab(ctx, sess); err != nil {
		sess.close()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if _, err := sess.Rescan(ctx); err != nil {
		s.logger.Warn("scout: first scan failed", "session", sess.ID, "error", err)
	}
	if page.Watch {
		if err := sess.startWatch(); err != nil {
			s.logger.Warn("scout: watch not started", "session", sess.ID, "error", err)
		}
	}
	s.logger.Info("scout: opened", "session", sess.ID, "url", sess.URL, "level", level)
	return sess, nil
}

// pickLevel resolves "auto": a page that has to be watched needs a live
// DOM, otherwise a sufficient HTTP fetch wins and is returned for reuse.
func (s *Scout) pickLevel(ctx context.Context, page PageConfig) (browser.StealthLevel, *fetcher.Result, error) {
	level, fixed, err := browser.ParseLevel(page.StealthLevel)
	if err != nil {
		return 0, nil, err
	}
	if fixed {
		return level, nil, nil
	}
	if page.Watch {
		return browser.LevelHeadless, nil, nil
	}
	res, err := s.fetch.Fetch(ctx, page.URL)
	if err != nil {
		s.logger.Warn("scout: auto-detect fetch failed, escalating to headless",
			"url", page.URL, "error", err)
		return browser.LevelHeadless, nil, nil
	}
	if res.Sufficient {
		return browser.LevelHTTP, res, nil
	}
	s.logger.Info("scout: content insufficient via HTTP, escalating to headless", "url", page.URL)
	return browser.LevelHeadless, nil, nil
}

// parse builds an htmldom document and fetches its same-origin iframes.
func (s *Scout) parse(ctx context.Context, res *fetcher.Result, depth int) (*htmldom.Document, error) {
	doc, err := htmldom.Parse(bytes.NewReader(res.HTML), res.URL)
	if err != nil {
		return nil, err
	}
	if depth >= maxFrameDepth {
		return doc, nil
	}
	for _, el := range doc.Find("iframe[src], frame[src]") {
		attrs, _ := el.Attributes(ctx)
		src := attrValue(attrs, "src")
		if src == "" || !doc.SameOrigin(src) {
			continue
		}
		fr, err := s.fetch.Fetch(ctx, doc.ResolveURL(src))
		if err != nil {
			s.logger.Debug("scout: frame fetch failed", "src", src, "error", err)
			continue
		}
		frame, err := s.parse(ctx, fr, depth+1)
		if err != nil {
			continue
		}
		doc.AttachFrame(src, frame)
	}
	return doc, nil
}

func attrValue(attrs []dom.Attr, name string) string {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

func (s *Scout) attachTab(ctx context.Context, sess *Session) error {
	tab, err := browser.OpenTab(ctx, s.mgr, sess.page.URL, sess.Level)
	if err != nil {
		return err
	}
	doc, err := roddom.New(ctx, tab.Page, roddom.WithLogger(s.logger))
	if err != nil {
		tab.Close()
		return err
	}
	sess.mu.Lock()
	sess.tab = tab
	sess.doc = doc
	sess.URL = doc.URL()
	sess.mu.Unlock()
	return nil
}

func (s *Scout) newSession(page PageConfig, level browser.StealthLevel) *Session {
	gallery := sink.NewGallery()
	router := sink.NewRouter(s.logger, gallery)
	for _, g := range s.sinks {
		router.Add(g)
	}
	var (
		store  *sink.Store
		record *sink.Async
	)
	if s.history != nil {
		store = sink.NewStore(s.history, page.URL, s.logger)
		record = sink.NewAsync(store, 0, s.logger)
		router.Add(record)
	}
	if s.download != nil {
		router.Add(&sink.Callback{OnDiscovered: s.download.onDiscovered})
	}

	sess := &Session{
		ID:      page.ID,
		URL:     page.URL,
		Level:   level,
		page:    page,
		scout:   s,
		gallery: gallery,
		store:   store,
		record:  record,
		router:  router,
		logger:  s.logger.With("session", page.ID),
	}
	sess.scanner = scanner.New(router,
		scanner.WithLogger(sess.logger),
		scanner.WithSurfaces(!s.cfg.Scan.NoSurfaces),
		scanner.WithExtractor(extract.New(
			extract.WithLogger(sess.logger),
			extract.WithBlobStore(s.blobs),
		)),
	)
	return sess
}

// Session returns an open session.
func (s *Scout) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return sess, nil
}

// Sessions lists open sessions ordered by id.
func (s *Scout) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseSession stops and forgets one session.
func (s *Scout) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return sess.close()
}

// Resolve fetches a source through the shared resolver.
func (s *Scout) Resolve(ctx context.Context, ref resolve.Ref) (resolve.Payload, error) {
	return s.resolver.Resolve(ctx, ref)
}

// Download resolves ref and saves it under dir.
func (s *Scout) Download(ctx context.Context, ref resolve.Ref, dir string) (string, error) {
	p, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return resolve.Save(dir, p)
}

// History returns the recorded scans of pageURL, newest first.
func (s *Scout) History(ctx context.Context, pageURL string, limit int) ([]sink.ScanRecord, error) {
	if s.history == nil {
		return nil, fmt.Errorf("scout: history disabled")
	}
	s.flushHistory(ctx)
	return sink.NewStore(s.history, pageURL, s.logger).Scans(ctx, pageURL, limit)
}

// HistoryImages returns the images recorded for a scan id.
func (s *Scout) HistoryImages(ctx context.Context, scanID string) ([]event.DiscoveredImage, error) {
	if s.history == nil {
		return nil, fmt.Errorf("scout: history disabled")
	}
	s.flushHistory(ctx)
	return sink.NewStore(s.history, "", s.logger).Images(ctx, scanID)
}

// flushHistory waits for the sessions' queued history writes.
func (s *Scout) flushHistory(ctx context.Context) {
	for _, sess := range s.Sessions() {
		if sess.record == nil {
			continue
		}
		if err := sess.record.Flush(ctx); err != nil {
			s.logger.Warn("scout: flush history", "session", sess.ID, "error", err)
		}
	}
}

// Close stops every session, the downloads, Chrome, and the global sinks.
func (s *Scout) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for id, sess := range sessions {
		if err := sess.close(); err != nil {
			s.logger.Warn("scout: close session", "session", id, "error", err)
		}
	}
	if s.download != nil {
		s.download.close()
	}
	s.mgr.Close()
	for _, g := range s.sinks {
		g.Close()
	}
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

// detachLive stops the watchers of browser sessions before Chrome goes away.
func (s *Scout) detachLive() {
	for _, sess := range s.Sessions() {
		if sess.Level != browser.LevelHTTP {
			sess.stopWatch()
		}
	}
}

// reattachLive reopens the tabs of browser sessions in the new Chrome and
// rescans them.
func (s *Scout) reattachLive(_ *rod.Browser) {
	ctx := context.Background()
	for _, sess := range s.Sessions() {
		if sess.Level == browser.LevelHTTP {
			continue
		}
		sess.mu.Lock()
		sess.tab = nil
		sess.mu.Unlock()
		if err := s.attachTab(ctx, sess); err != nil {
			s.logger.Error("scout: reattach failed", "session", sess.ID, "error", err)
			continue
		}
		if _, err := sess.Rescan(ctx); err != nil {
			s.logger.Warn("scout: rescan after recycle failed", "session", sess.ID, "error", err)
		}
		if sess.page.Watch {
			if err := sess.startWatch(); err != nil {
				s.logger.Warn("scout: rewatch failed", "session", sess.ID, "error", err)
			}
		}
	}
}
