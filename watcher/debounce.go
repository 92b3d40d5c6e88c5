package watcher

import (
	"time"

	"github.com/hazyhaar/imgscout/dom"
)

// debounceConfig controls the batching behaviour.
type debounceConfig struct {
	// Window is the debounce time. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many records accumulate. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 250 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 1000
	}
}

// debouncer collects mutations and hands compressed runs to flushFn when
// the window expires or the buffer fills.
type debouncer struct {
	cfg     debounceConfig
	records []dom.Mutation
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]dom.Mutation)
}

func newDebouncer(cfg debounceConfig, flushFn func([]dom.Mutation)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		records: make([]dom.Mutation, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add pushes a mutation into the buffer. It returns true if the buffer was
// full and flushed immediately.
func (d *debouncer) add(m dom.Mutation) bool {
	d.records = append(d.records, m)

	if len(d.records) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC fires when the debounce window expires. Nil while idle.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) flush() {
	if len(d.records) == 0 {
		d.stop()
		return
	}
	batch := compress(d.records)
	d.records = make([]dom.Mutation, 0, d.cfg.MaxBuffer)
	d.stop()
	d.flushFn(batch)
}

// discard drops buffered mutations without flushing them.
func (d *debouncer) discard() {
	d.records = d.records[:0]
	d.stop()
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}

// compress collapses consecutive attribute mutations on the same element
// into one: the element is re-extracted as a whole, so which attribute
// changed does not matter. Insertions are never compressed.
func compress(records []dom.Mutation) []dom.Mutation {
	if len(records) <= 1 {
		return records
	}

	result := make([]dom.Mutation, 0, len(records))
	for i := 0; i < len(records); i++ {
		m := records[i]
		if m.Kind != dom.Attribute {
			result = append(result, m)
			continue
		}
		key := m.Target.Key()
		j := i + 1
		for j < len(records) &&
			records[j].Kind == dom.Attribute &&
			records[j].Target.Key() == key {
			j++
		}
		result = append(result, records[j-1])
		i = j - 1
	}
	return result
}
