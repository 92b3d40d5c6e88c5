// Package scanner walks a page and emits each distinct image source once per
// epoch. A full scan starts a new epoch: the ledger is reset and a Clear is
// emitted atomically, then the tree is traversed depth first (light
// children, open shadow roots, same-origin frames), followed by the text of
// <style> elements and comments. Incremental rescans reuse the current
// epoch and only add.
//
// A full scan that starts while another is in flight supersedes it. Work of
// the superseded pass may still finish, but its results are checked against
// the epoch under the scanner lock and dropped.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/hazyhaar/imgscout/blob"
	"github.com/hazyhaar/imgscout/classify"
	"github.com/hazyhaar/imgscout/dom"
	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/extract"
	"github.com/hazyhaar/imgscout/ledger"
)

var (
	// ErrSuperseded is returned by a scan whose epoch was replaced before it
	// finished. It is not a failure.
	ErrSuperseded = errors.New("scanner: scan superseded")

	// ErrNoDocument is returned by Handle when no document was attached.
	ErrNoDocument = errors.New("scanner: no document attached")
)

// State is the scanner's coarse state.
type State int

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

// Emitter receives the outbound event stream. Emit is called with the
// scanner lock held and must not call back into the Scanner.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

// EmitFunc adapts a function to Emitter.
type EmitFunc func(ctx context.Context, ev event.Event) error

func (f EmitFunc) Emit(ctx context.Context, ev event.Event) error { return f(ctx, ev) }

// Summary reports what one pass did.
type Summary struct {
	Epoch      uint64 `json:"epoch"`
	Elements   int    `json:"elements"`
	Discovered int    `json:"discovered"`
	Skipped    int    `json:"skipped"` // elements whose extraction failed
}

// Scanner owns the ledger and the epoch counter. Construct one per page.
type Scanner struct {
	mu     sync.Mutex
	epoch  uint64
	state  State
	cancel context.CancelFunc
	ledger *ledger.Ledger
	seq    uint64
	doc    dom.Document

	emit      Emitter
	extractor *extract.Extractor
	namer     *classify.Namer
	surfaces  bool
	logger    *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithExtractor replaces the default extractor.
func WithExtractor(x *extract.Extractor) Option {
	return func(s *Scanner) { s.extractor = x }
}

// WithNamer sets the file name derivation.
func WithNamer(n *classify.Namer) Option {
	return func(s *Scanner) { s.namer = n }
}

// WithSurfaces toggles canvas snapshots and SVG serialisation (default on).
func WithSurfaces(on bool) Option {
	return func(s *Scanner) { s.surfaces = on }
}

// New creates an idle Scanner emitting to emit.
func New(emit Emitter, opts ...Option) *Scanner {
	s := &Scanner{
		ledger:   ledger.New(),
		emit:     emit,
		surfaces: true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.extractor == nil {
		s.extractor = extract.New(extract.WithLogger(s.logger), extract.WithBlobStore(blob.NewStore(0)))
	}
	if s.namer == nil {
		s.namer = classify.NewNamer()
	}
	return s
}

// Attach sets the document used by Handle without scanning it.
func (s *Scanner) Attach(doc dom.Document) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// Epoch returns the current epoch id (0 before the first full scan).
func (s *Scanner) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// State returns Scanning while a full scan is in flight.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle dispatches an inbound command.
func (s *Scanner) Handle(ctx context.Context, cmd event.Command) error {
	switch c := cmd.(type) {
	case event.FullScan:
		s.mu.Lock()
		doc := s.doc
		s.mu.Unlock()
		if doc == nil {
			return ErrNoDocument
		}
		_, err := s.FullScan(ctx, doc)
		return err
	case event.IncrementalRescan:
		_, err := s.ScanIncremental(ctx, c)
		return err
	default:
		return fmt.Errorf("scanner: unknown command %T", cmd)
	}
}

// FullScan starts a new epoch and walks doc. It returns ErrSuperseded when
// another full scan replaced it, and an error when the document root is
// unavailable; in both cases whatever was emitted before stays emitted.
func (s *Scanner) FullScan(ctx context.Context, doc dom.Document) (Summary, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.epoch++
	epoch := s.epoch
	s.cancel = cancel
	s.state = Scanning
	s.doc = doc
	s.ledger.Reset()
	s.emitLocked(scanCtx, event.Clear{Epoch: epoch})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.epoch == epoch {
			s.state = Idle
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	p := s.newPass(scanCtx, epoch, doc)
	s.logger.Debug("scanner: full scan", "epoch", epoch, "url", doc.URL())

	root, err := doc.Root(scanCtx)
	if err != nil {
		if serr := p.stale(); serr != nil {
			return p.sum, serr
		}
		return p.sum, fmt.Errorf("scanner: root: %w", err)
	}
	if err := p.walk(root, p.base); err != nil {
		return p.sum, err
	}
	if err := p.scanTexts(); err != nil {
		return p.sum, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return p.sum, ErrSuperseded
	}
	s.emitLocked(scanCtx, event.ScanComplete{
		Epoch:      epoch,
		Discovered: p.sum.Discovered,
		Elements:   p.sum.Elements,
	})
	s.logger.Info("scanner: scan complete", "epoch", epoch,
		"elements", p.sum.Elements, "discovered", p.sum.Discovered, "skipped", p.sum.Skipped)
	return p.sum, nil
}

// ScanIncremental feeds a mutation batch through the current epoch in
// order. Added elements are walked with their subtree unless already
// visited; attribute changes are re-extracted regardless, but their surfaces
// only on first visit.
func (s *Scanner) ScanIncremental(ctx context.Context, r event.IncrementalRescan) (Summary, error) {
	s.mu.Lock()
	epoch, doc := s.epoch, s.doc
	s.mu.Unlock()

	p := s.newPass(ctx, epoch, doc)
	for _, c := range r.Changes {
		switch c.Kind {
		case dom.Added:
			if err := p.walk(c.Element, p.base); err != nil {
				return p.sum, err
			}
		case dom.Attribute:
			first, err := p.visit(c.Element)
			if err != nil {
				return p.sum, err
			}
			if err := p.process(c.Element, p.base, first); err != nil {
				return p.sum, err
			}
		}
	}
	if p.sum.Discovered > 0 {
		s.logger.Debug("scanner: incremental", "epoch", epoch,
			"added", r.Count(dom.Added), "changed", r.Count(dom.Attribute), "discovered", p.sum.Discovered)
	}
	return p.sum, nil
}

func (s *Scanner) emitLocked(ctx context.Context, ev event.Event) {
	if s.emit == nil {
		return
	}
	if err := s.emit.Emit(ctx, ev); err != nil {
		s.logger.Warn("scanner: emit", "type", event.TypeOf(ev), "epoch", ev.EpochID(), "error", err)
	}
}

func (s *Scanner) newPass(ctx context.Context, epoch uint64, doc dom.Document) *pass {
	p := &pass{s: s, ctx: ctx, epoch: epoch}
	p.sum.Epoch = epoch
	if doc != nil {
		p.docs = append(p.docs, doc)
		if u, err := url.Parse(doc.URL()); err == nil && u.Scheme != "" {
			p.base = u
		}
	}
	return p
}
