package classify

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Namer derives save names for sources. Synthesised names take the form
// image_<id>.<ext>; the id source is injectable so names are deterministic
// in tests.
type Namer struct {
	id func() string
}

// NamerOption configures a Namer.
type NamerOption func(*Namer)

// WithIDs sets the id source used for synthesised names.
func WithIDs(next func() string) NamerOption {
	return func(n *Namer) { n.id = next }
}

// NewNamer returns a Namer whose default ids are the current Unix
// millisecond followed by a process-wide sequence number.
func NewNamer(opts ...NamerOption) *Namer {
	n := &Namer{id: timeSeqID()}
	for _, o := range opts {
		o(n)
	}
	return n
}

func timeSeqID() func() string {
	var seq atomic.Uint64
	return func() string {
		return fmt.Sprintf("%d_%d", time.Now().UnixMilli(), seq.Add(1))
	}
}

// FileName returns the name a source should be saved under. data: URIs get a
// synthesised name with the extension of their declared type. Other sources
// keep their last path segment when it carries a recognised image extension;
// anything else gets a synthesised name with DefaultExt.
func (n *Namer) FileName(src string) string {
	if declared, ok := dataMIME(src); ok {
		return n.synth(ExtensionForMIME(declared))
	}
	seg := lastSegment(src)
	if seg != "" && IsImageExtension(Extension(src)) && !strings.ContainsAny(seg, `/\`) {
		return seg
	}
	return n.synth(DefaultExt)
}

func (n *Namer) synth(ext string) string {
	return "image_" + n.id() + "." + ext
}

var defaultNamer = NewNamer()

// FileName derives a save name using the package default Namer.
func FileName(src string) string {
	return defaultNamer.FileName(src)
}
