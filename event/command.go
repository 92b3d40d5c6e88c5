package event

import "github.com/hazyhaar/imgscout/dom"

// Command is an inbound trigger. The set of implementations is closed.
type Command interface {
	command()
}

// FullScan starts a new epoch over the whole document.
type FullScan struct{}

// Change is one element of a rescan. dom.Added elements are walked with
// their subtree; dom.Attribute elements only have their own attributes and
// style re-extracted.
type Change struct {
	Kind    dom.MutationKind
	Element dom.Element
}

// IncrementalRescan feeds changed elements through the current epoch in
// notification order.
type IncrementalRescan struct {
	Changes []Change
}

// Rescan builds an IncrementalRescan with one kind for all elements.
func Rescan(kind dom.MutationKind, els ...dom.Element) IncrementalRescan {
	r := IncrementalRescan{Changes: make([]Change, 0, len(els))}
	for _, el := range els {
		r.Changes = append(r.Changes, Change{Kind: kind, Element: el})
	}
	return r
}

func (FullScan) command()          {}
func (IncrementalRescan) command() {}

// Empty reports whether the rescan carries no elements.
func (r IncrementalRescan) Empty() bool {
	return len(r.Changes) == 0
}

// Count returns how many changes are of kind.
func (r IncrementalRescan) Count(kind dom.MutationKind) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
