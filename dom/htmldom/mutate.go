package htmldom

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/imgscout/dom"
)

type subscriber struct {
	ctx   context.Context
	ch    chan []dom.Mutation
	attrs map[string]bool
}

// Subscribe implements dom.MutationSource. Notifications for a change are
// delivered after the tree has been updated.
func (d *Document) Subscribe(ctx context.Context, attrs []string) (<-chan []dom.Mutation, error) {
	sub := &subscriber{
		ctx:   ctx,
		ch:    make(chan []dom.Mutation, 64),
		attrs: make(map[string]bool, len(attrs)),
	}
	for _, a := range attrs {
		sub.attrs[strings.ToLower(a)] = true
	}

	d.subMu.Lock()
	d.subs = append(d.subs, sub)
	d.subMu.Unlock()

	go func() {
		<-ctx.Done()
		d.subMu.Lock()
		defer d.subMu.Unlock()
		for i, s := range d.subs {
			if s == sub {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (d *Document) publish(muts []dom.Mutation) {
	if len(muts) == 0 {
		return
	}
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, s := range d.subs {
		var batch []dom.Mutation
		for _, m := range muts {
			if m.Kind == dom.Attribute && !s.attrs[strings.ToLower(m.Name)] {
				continue
			}
			batch = append(batch, m)
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case s.ch <- batch:
		case <-s.ctx.Done():
		}
	}
}

func (d *Document) node(el dom.Element) (*html.Node, error) {
	e, ok := el.(*element)
	if !ok || e.doc != d {
		return nil, fmt.Errorf("htmldom: element does not belong to this document")
	}
	return e.n, nil
}

// Append parses markup in the context of parent, appends the resulting
// nodes and notifies subscribers of each added element.
func (d *Document) Append(parent dom.Element, markup string) ([]dom.Element, error) {
	p, err := d.node(parent)
	if err != nil {
		return nil, err
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), p)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse fragment: %w", err)
	}

	d.mu.Lock()
	var added []dom.Element
	var muts []dom.Mutation
	for _, n := range nodes {
		p.AppendChild(n)
		if n.Type == html.ElementNode {
			el := d.wrap(n)
			added = append(added, el)
			muts = append(muts, dom.Mutation{Kind: dom.Added, Target: el})
		}
	}
	d.mu.Unlock()

	d.publish(muts)
	return added, nil
}

// SetAttribute sets an attribute and notifies subscribers watching it.
func (d *Document) SetAttribute(el dom.Element, name, value string) error {
	n, err := d.node(el)
	if err != nil {
		return err
	}
	d.mu.Lock()
	set := false
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, name) {
			n.Attr[i].Val = value
			set = true
			break
		}
	}
	if !set {
		n.Attr = append(n.Attr, html.Attribute{Key: strings.ToLower(name), Val: value})
	}
	d.mu.Unlock()

	d.publish([]dom.Mutation{{Kind: dom.Attribute, Target: el, Name: strings.ToLower(name)}})
	return nil
}

// Move detaches el and appends the same node under parent.
func (d *Document) Move(el, parent dom.Element) error {
	n, err := d.node(el)
	if err != nil {
		return err
	}
	p, err := d.node(parent)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	p.AppendChild(n)
	d.mu.Unlock()

	d.publish([]dom.Mutation{{Kind: dom.Added, Target: el}})
	return nil
}

// Remove detaches el from the tree.
func (d *Document) Remove(el dom.Element) error {
	n, err := d.node(el)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	d.mu.Unlock()
	return nil
}

// Replace swaps the whole tree for a newly parsed page, like document.open
// followed by document.write.
func (d *Document) Replace(markup string) error {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("htmldom: parse: %w", err)
	}
	d.mu.Lock()
	d.root = root
	clear(d.srcdocs)
	d.mu.Unlock()

	d.publish([]dom.Mutation{{Kind: dom.Reset}})
	return nil
}
