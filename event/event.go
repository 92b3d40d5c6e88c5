// Package event defines the protocol between the scanning engine and its
// consumers: the outbound event stream (clear, discovered, scan_complete)
// and the inbound commands (full scan, incremental rescan). Both are closed
// sets; consumers switch on the concrete type.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/imgscout/dom"
)

// Unknown is the Dimensions value when size cannot be read without layout.
const Unknown = "Unknown"

// DiscoveredImage is one distinct image found in a scan epoch. Source is
// the identity; Origin is a weak back-reference, never ownership.
type DiscoveredImage struct {
	Source       string     `json:"source"`
	MimeType     string     `json:"mime_type"`
	Filename     string     `json:"filename"`
	Dimensions   string     `json:"dimensions"`
	OriginTag    string     `json:"origin_tag"`
	Via          string     `json:"via"` // attribute, srcset, style, canvas, svg, stylesheet, comment
	DiscoveredAt uint64     `json:"discovered_at"`
	Origin       dom.Handle `json:"-"`
}

// Event is an outbound message. The set of implementations is closed.
type Event interface {
	EpochID() uint64
	event()
}

// Clear tells consumers to drop everything they display. It precedes every
// discovery of a new epoch.
type Clear struct {
	Epoch uint64 `json:"epoch"`
}

// Discovered announces a new image. Consumers upsert by Image.Source.
type Discovered struct {
	Epoch uint64          `json:"epoch"`
	Image DiscoveredImage `json:"image"`
}

// ScanComplete marks the end of a full scan.
type ScanComplete struct {
	Epoch      uint64 `json:"epoch"`
	Discovered int    `json:"discovered"`
	Elements   int    `json:"elements"`
}

func (e Clear) EpochID() uint64        { return e.Epoch }
func (e Discovered) EpochID() uint64   { return e.Epoch }
func (e ScanComplete) EpochID() uint64 { return e.Epoch }

func (Clear) event()        {}
func (Discovered) event()   {}
func (ScanComplete) event() {}

// Type names used on the wire.
const (
	TypeClear        = "clear"
	TypeDiscovered   = "discovered"
	TypeScanComplete = "scan_complete"
)

// TypeOf returns the wire name of e.
func TypeOf(e Event) string {
	switch e.(type) {
	case Clear:
		return TypeClear
	case Discovered:
		return TypeDiscovered
	case ScanComplete:
		return TypeScanComplete
	}
	return ""
}

// Envelope is the JSON framing shared by the stdout and webhook sinks.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal wraps e in an Envelope.
func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: TypeOf(e), Data: data})
}

// Unmarshal decodes an Envelope back into its concrete event.
func Unmarshal(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeClear:
		var e Clear
		err := json.Unmarshal(env.Data, &e)
		return e, err
	case TypeDiscovered:
		var e Discovered
		err := json.Unmarshal(env.Data, &e)
		return e, err
	case TypeScanComplete:
		var e ScanComplete
		err := json.Unmarshal(env.Data, &e)
		return e, err
	}
	return nil, fmt.Errorf("event: unknown type %q", env.Type)
}
