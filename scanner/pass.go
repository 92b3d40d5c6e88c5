package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/hazyhaar/imgscout/classify"
	"github.com/hazyhaar/imgscout/dom"
	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/extract"
)

// pass is one traversal bound to the epoch it started in.
type pass struct {
	s     *Scanner
	ctx   context.Context
	epoch uint64
	base  *url.URL
	docs  []dom.Document
	sum   Summary
}

// stale returns ErrSuperseded when the epoch moved on, or the context error.
func (p *pass) stale() error {
	p.s.mu.Lock()
	moved := p.s.epoch != p.epoch
	p.s.mu.Unlock()
	if moved {
		return ErrSuperseded
	}
	return p.ctx.Err()
}

// visit marks el in the ledger and reports whether this is its first visit.
func (p *pass) visit(el dom.Element) (bool, error) {
	if p.ctx.Err() != nil {
		return false, p.stale()
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.epoch != p.epoch {
		return false, ErrSuperseded
	}
	return p.s.ledger.MarkVisited(el.Key()), nil
}

// walk visits el and its subtree once. Only cancellation stops it.
func (p *pass) walk(el dom.Element, base *url.URL) error {
	first, err := p.visit(el)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	if err := p.process(el, base, true); err != nil {
		return err
	}

	children, err := el.Children(p.ctx)
	if err != nil {
		p.s.logger.Warn("scanner: children", "tag", el.Tag(), "error", err)
	}
	for _, c := range children {
		if err := p.walk(c, base); err != nil {
			return err
		}
	}

	shadow, err := el.ShadowChildren(p.ctx)
	if err != nil {
		p.s.logger.Debug("scanner: shadow root", "tag", el.Tag(), "error", err)
	}
	for _, c := range shadow {
		if err := p.walk(c, base); err != nil {
			return err
		}
	}

	if tag := el.Tag(); tag == "iframe" || tag == "frame" {
		return p.frame(el)
	}
	return nil
}

func (p *pass) frame(el dom.Element) error {
	doc, err := el.ContentDocument(p.ctx)
	switch {
	case errors.Is(err, dom.ErrCrossOrigin):
		p.s.logger.Debug("scanner: cross-origin frame skipped", "error", err)
		return nil
	case err != nil:
		if serr := p.stale(); serr != nil {
			return serr
		}
		p.s.logger.Warn("scanner: frame document", "error", err)
		return nil
	case doc == nil:
		return nil
	}
	root, err := doc.Root(p.ctx)
	if err != nil {
		p.s.logger.Warn("scanner: frame root", "url", doc.URL(), "error", err)
		return nil
	}
	base := p.base
	if u, err := url.Parse(doc.URL()); err == nil && u.Scheme != "" && u.Scheme != "about" {
		base = u
	}
	p.docs = append(p.docs, doc)
	return p.walk(root, base)
}

// process extracts el and offers its candidates. Extraction failures are
// logged and counted, never returned.
func (p *pass) process(el dom.Element, base *url.URL, surfaces bool) error {
	p.sum.Elements++
	cands, err := p.s.extractor.Extract(p.ctx, el, extract.Options{
		Base:     base,
		Surfaces: surfaces && p.s.surfaces,
	})
	if err != nil {
		if serr := p.stale(); serr != nil {
			return serr
		}
		p.sum.Skipped++
		p.s.logger.Warn("scanner: extract", "tag", el.Tag(), "error", err)
		return nil
	}
	if len(cands) == 0 {
		return nil
	}

	dims := event.Unknown
	if w, h, ok := el.Dimensions(p.ctx); ok {
		dims = fmt.Sprintf("%dx%d", w, h)
	}
	return p.offer(cands, el.Tag(), dims, el.Handle())
}

// scanTexts searches stylesheet bodies and comments of every document the
// pass entered. Their sources have a synthetic origin.
func (p *pass) scanTexts() error {
	for _, doc := range p.docs {
		base := p.base
		if u, err := url.Parse(doc.URL()); err == nil && u.Scheme != "" && u.Scheme != "about" {
			base = u
		}

		styles, err := doc.StyleTexts(p.ctx)
		if err != nil {
			p.s.logger.Warn("scanner: style texts", "url", doc.URL(), "error", err)
		}
		for _, text := range styles {
			cands := p.s.extractor.ExtractText(text, base, extract.ViaStylesheet)
			if err := p.offer(cands, "style", event.Unknown, dom.Synthetic{Container: "style"}); err != nil {
				return err
			}
		}

		comments, err := doc.Comments(p.ctx)
		if err != nil {
			p.s.logger.Warn("scanner: comments", "url", doc.URL(), "error", err)
		}
		for _, text := range comments {
			cands := p.s.extractor.ExtractText(text, base, extract.ViaComment)
			if err := p.offer(cands, "#comment", event.Unknown, dom.Synthetic{Container: "#comment"}); err != nil {
				return err
			}
		}
	}
	return nil
}

// offer emits every qualifying candidate not yet emitted in this epoch.
// The epoch check and the ledger write happen under the same lock as the
// emission, so a superseded pass can never emit.
func (p *pass) offer(cands []extract.Candidate, tag, dims string, origin dom.Handle) error {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != p.epoch {
		return ErrSuperseded
	}
	for _, c := range cands {
		if !classify.LooksLikeImageSource(c.Source) {
			continue
		}
		if !s.ledger.MarkEmitted(c.Source) {
			continue
		}
		s.seq++
		p.sum.Discovered++
		s.emitLocked(p.ctx, event.Discovered{
			Epoch: p.epoch,
			Image: event.DiscoveredImage{
				Source:       c.Source,
				MimeType:     classify.MimeType(c.Source),
				Filename:     s.namer.FileName(c.Source),
				Dimensions:   dims,
				OriginTag:    tag,
				Via:          string(c.Via),
				DiscoveredAt: s.seq,
				Origin:       origin,
			},
		})
	}
	return nil
}
