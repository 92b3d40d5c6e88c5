package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/imgscout/event"
)

// Stdout writes one JSON envelope per line to an io.Writer.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{w: w}
}

func (s *Stdout) Emit(_ context.Context, ev event.Event) error {
	b, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stdout: marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(b, '\n'))
	return err
}

func (s *Stdout) Close() error { return nil }
