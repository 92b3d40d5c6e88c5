// Package blob keeps the synthetic image payloads the page does not expose
// by URL: serialised SVG markup and canvas snapshots. Entries are content
// addressed, so the same markup always yields the same source string and
// dedupes like any other URL.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/hazyhaar/imgscout/classify"
)

// Scheme is the prefix of every source minted by a Store.
const Scheme = "blob:imgscout/"

// ErrNotFound is returned by Get for unknown or evicted sources.
var ErrNotFound = errors.New("blob: not found")

// Entry is a stored payload.
type Entry struct {
	Data     []byte
	MimeType string
}

// Store is a bounded content-addressed registry. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
	max     int
}

// NewStore returns a Store holding at most max entries (default 512).
// The oldest entry is evicted first.
func NewStore(max int) *Store {
	if max <= 0 {
		max = 512
	}
	return &Store{entries: make(map[string]Entry), max: max}
}

// Put registers data and returns its synthetic source.
func (s *Store) Put(data []byte, mimeType string) string {
	sum := sha256.Sum256(data)
	src := Scheme + hex.EncodeToString(sum[:12]) + "." + classify.ExtensionForMIME(mimeType)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[src]; ok {
		return src
	}
	s.entries[src] = Entry{Data: data, MimeType: mimeType}
	s.order = append(s.order, src)
	for len(s.order) > s.max {
		delete(s.entries, s.order[0])
		s.order = s.order[1:]
	}
	return src
}

// Get returns the payload for src.
func (s *Store) Get(src string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[src]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Owns reports whether src was minted by a Store.
func Owns(src string) bool {
	return strings.HasPrefix(src, Scheme)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
