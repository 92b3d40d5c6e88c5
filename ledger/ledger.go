// Package ledger is the per-epoch dedupe state of the scanner: which nodes
// have been inspected and which sources have been emitted.
//
// Node membership is keyed by dom.Element.Key, which back-ends implement
// with weak pointers or arena ids, so a ledger never keeps a removed node
// alive. A Ledger is owned by one scanner and is not safe for concurrent use
// on its own; the scanner serialises access.
package ledger

// Ledger holds the two membership sets of one scan epoch.
type Ledger struct {
	nodes   map[any]struct{}
	sources map[string]struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		nodes:   make(map[any]struct{}),
		sources: make(map[string]struct{}),
	}
}

// HasVisitedNode reports whether the node identified by key was inspected.
func (l *Ledger) HasVisitedNode(key any) bool {
	_, ok := l.nodes[key]
	return ok
}

// MarkVisited records key as inspected. It returns false if it already was.
func (l *Ledger) MarkVisited(key any) bool {
	if _, ok := l.nodes[key]; ok {
		return false
	}
	l.nodes[key] = struct{}{}
	return true
}

// HasEmittedSource reports whether src was emitted in this epoch.
func (l *Ledger) HasEmittedSource(src string) bool {
	_, ok := l.sources[src]
	return ok
}

// MarkEmitted records src as emitted. It returns false if it already was.
func (l *Ledger) MarkEmitted(src string) bool {
	if _, ok := l.sources[src]; ok {
		return false
	}
	l.sources[src] = struct{}{}
	return true
}

// Reset empties both sets.
func (l *Ledger) Reset() {
	clear(l.nodes)
	clear(l.sources)
}

// Len returns the number of visited nodes and emitted sources.
func (l *Ledger) Len() (nodes, sources int) {
	return len(l.nodes), len(l.sources)
}
