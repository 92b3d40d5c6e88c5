package event

import (
	"strings"
	"testing"
)

func TestUnmarshal_Discovered(t *testing.T) {
	in := Discovered{Epoch: 3, Image: DiscoveredImage{
		Source:     "https://x/a.png",
		MimeType:   "image/png",
		Filename:   "a.png",
		Dimensions: "10x20",
		OriginTag:  "img",
		Via:        "attribute",
	}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"discovered"`) {
		t.Fatalf("envelope type missing: %s", data)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := got.(Discovered)
	if !ok {
		t.Fatalf("got %T, want Discovered", got)
	}
	if d.Image.Source != in.Image.Source || d.EpochID() != 3 {
		t.Errorf("got %+v", d)
	}
}

func TestUnmarshal_UnknownType(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"type":"bogus","data":{}}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestTypeOf(t *testing.T) {
	if TypeOf(Clear{}) != TypeClear || TypeOf(ScanComplete{}) != TypeScanComplete {
		t.Error("TypeOf mismatch")
	}
}
