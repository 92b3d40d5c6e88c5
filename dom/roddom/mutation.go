package roddom

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/imgscout/dom"
)

// rawEvent is a CDP notification before its node is resolved.
type rawEvent struct {
	kind    dom.MutationKind
	nodeID  proto.DOMNodeID
	backend proto.DOMBackendNodeID
	name    string
}

// Subscribe implements dom.MutationSource. It enables the CDP DOM domain,
// requests the whole tree (depth -1, piercing frames and shadow roots) so
// that events fire for deep nodes, and resolves each notification to an
// element in a pump goroutine.
func (d *Document) Subscribe(ctx context.Context, attrs []string) (<-chan []dom.Mutation, error) {
	page := d.page.Context(ctx)
	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("roddom: DOM.enable: %w", err)
	}
	if err := d.track(ctx); err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		allowed[strings.ToLower(a)] = true
	}

	raw := make(chan rawEvent, 4096)
	push := func(ev rawEvent) {
		select {
		case raw <- ev:
		case <-ctx.Done():
		}
	}

	wait := page.EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			if e.Node == nil || e.Node.NodeType != 1 {
				return
			}
			push(rawEvent{kind: dom.Added, backend: e.Node.BackendNodeID})
		},
		func(e *proto.DOMAttributeModified) {
			if allowed[strings.ToLower(e.Name)] {
				push(rawEvent{kind: dom.Attribute, nodeID: e.NodeID, name: strings.ToLower(e.Name)})
			}
		},
		func(e *proto.DOMAttributeRemoved) {
			if allowed[strings.ToLower(e.Name)] {
				push(rawEvent{kind: dom.Attribute, nodeID: e.NodeID, name: strings.ToLower(e.Name)})
			}
		},
		func(e *proto.DOMDocumentUpdated) {
			push(rawEvent{kind: dom.Reset})
		},
	)
	go func() {
		wait()
		close(raw)
	}()

	out := make(chan []dom.Mutation, 64)
	go d.pump(ctx, raw, out)
	return out, nil
}

// track asks for the full tree; CDP only reports changes on nodes the
// client has been sent.
func (d *Document) track(ctx context.Context) error {
	depth := -1
	if _, err := (proto.DOMGetDocument{Depth: &depth, Pierce: true}).Call(d.page.Context(ctx)); err != nil {
		return fmt.Errorf("roddom: DOM.getDocument: %w", err)
	}
	return nil
}

// pump resolves raw events to elements and forwards whatever is queued as
// one batch.
func (d *Document) pump(ctx context.Context, raw <-chan rawEvent, out chan<- []dom.Mutation) {
	defer close(out)
	for ev := range raw {
		batch := d.resolve(ctx, nil, ev)
	drain:
		for {
			select {
			case next, ok := <-raw:
				if !ok {
					break drain
				}
				batch = d.resolve(ctx, batch, next)
			default:
				break drain
			}
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Document) resolve(ctx context.Context, batch []dom.Mutation, ev rawEvent) []dom.Mutation {
	if ev.kind == dom.Reset {
		if err := d.track(ctx); err != nil {
			d.logger.Warn("roddom: re-track after document update", "error", err)
		}
		if res, err := d.page.Context(ctx).Eval(jsLocation); err == nil {
			d.mu.Lock()
			d.url = res.Value.Str()
			d.mu.Unlock()
		}
		return append(batch, dom.Mutation{Kind: dom.Reset})
	}

	el, err := d.page.Context(ctx).ElementFromNode(&proto.DOMNode{NodeID: ev.nodeID, BackendNodeID: ev.backend})
	if err != nil {
		d.logger.Debug("roddom: resolve node", "kind", ev.kind, "error", err)
		return batch
	}
	w, err := d.wrap(el)
	if err != nil {
		d.logger.Debug("roddom: describe node", "kind", ev.kind, "error", err)
		return batch
	}
	return append(batch, dom.Mutation{Kind: ev.kind, Target: w, Name: ev.name})
}
