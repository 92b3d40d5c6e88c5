package roddom

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestPairs(t *testing.T) {
	got := pairs([]string{"src", "a.png", "data-src", "", "dangling"})
	if len(got) != 2 {
		t.Fatalf("pairs: got %d, want 2", len(got))
	}
	if got[0].Name != "src" || got[0].Value != "a.png" || got[1].Name != "data-src" || got[1].Value != "" {
		t.Errorf("pairs: %+v", got)
	}
}

func TestLowerTag(t *testing.T) {
	if got := lowerTag(&proto.DOMNode{NodeName: "IMG", LocalName: "img"}); got != "img" {
		t.Errorf("lowerTag: %q", got)
	}
	if got := lowerTag(&proto.DOMNode{NodeName: "CANVAS"}); got != "canvas" {
		t.Errorf("lowerTag without local name: %q", got)
	}
}

func TestKeyIdentity(t *testing.T) {
	a := &element{backend: 42}
	b := &element{backend: 42}
	c := &element{backend: 43}
	if a.Key() != b.Key() {
		t.Error("same backend id gave different keys")
	}
	if a.Key() == c.Key() {
		t.Error("different backend ids gave equal keys")
	}
}
