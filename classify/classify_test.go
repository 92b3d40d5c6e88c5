package classify

import (
	"errors"
	"strings"
	"testing"
)

func TestLooksLikeImageSource(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://x/a.png", true},
		{"https://x/a.PNG", true},
		{"https://x/photo.jpeg?w=200#top", true},
		{"/static/icon.svg", true},
		{"data:image/png;base64,iVBORw0KGgo=", true},
		{"DATA:IMAGE/gif;base64,R0lGOD==", true},
		{"blob:https://x/5f1c", true},
		{"https://cdn.x/render?image=42", true},
		{"https://cdn.x/p/abc?fm=webp&q=80", true},
		{"https://x/page.html", false},
		{"https://x/noext", false},
		{"data:text/plain;base64,aGk=", false},
		{"javascript:void(0)", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := LooksLikeImageSource(tt.in); got != tt.want {
			t.Errorf("LooksLikeImageSource(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsDataImage(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"data:image/png;base64,iVBORw0KGgo=", true},
		{"data:image/svg+xml,%3Csvg%2F%3E", true},
		{"data:image/svg+xml;utf8,<svg/>", true},
		{"data:image/svg+xml;charset=utf-8,<svg/>", true},
		{"data:image/png;base64,abc", false},
		{"data:image/png;base64,", false},
		{"data:image/svg+xml,", false},
		{"data:image/svg+xml", false},
		{"data:text/plain,hello", false},
		{"https://x/a.png", false},
	}
	for _, tt := range tests {
		if got := IsDataImage(tt.in); got != tt.want {
			t.Errorf("IsDataImage(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeDataImage(t *testing.T) {
	tests := []struct {
		in, mime, data string
	}{
		{"data:image/png;base64,aGVsbG8=", "image/png", "hello"},
		{"data:image/svg+xml,%3Csvg%2F%3E", "image/svg+xml", "<svg/>"},
		{"data:image/svg+xml;utf8,<svg width='100%'/>", "image/svg+xml", "<svg width='100%'/>"},
	}
	for _, tt := range tests {
		mt, data, err := DecodeDataImage(tt.in)
		if err != nil {
			t.Errorf("DecodeDataImage(%q): %v", tt.in, err)
			continue
		}
		if mt != tt.mime || string(data) != tt.data {
			t.Errorf("DecodeDataImage(%q) = %s %q", tt.in, mt, data)
		}
	}
	if _, _, err := DecodeDataImage("data:image/png;base64,abc"); !errors.Is(err, ErrNotDataImage) {
		t.Errorf("invalid base64: err = %v", err)
	}
}

func TestIsBase64Image(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"data:image/png;base64,iVBORw0KGgo=", true},
		{"data:image/svg+xml;base64,PHN2Zy8+", true},
		{"data:image/png;base64,", false},
		{"data:image/png,notbase64", false},
		{"data:image/png;base64,iVBO RW0K", false},
		{"data:image/png;base64,abc", false},
		{"data:text/html;base64,PGI+", false},
		{"xdata:image/png;base64,iVBORw0KGgo=", false},
	}
	for _, tt := range tests {
		if got := IsBase64Image(tt.in); got != tt.want {
			t.Errorf("IsBase64Image(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"data:image/webp;base64,AAAA", "image/webp"},
		{"data:image/SVG+XML;base64,AAAA", "image/svg+xml"},
		{"https://x/a.jpg", "image/jpeg"},
		{"https://x/a.ICO?v=2", "image/x-icon"},
		{"blob:imgscout/0a1b2c.svg", "image/svg+xml"},
		{"https://x/noext", DefaultMIME},
	}
	for _, tt := range tests {
		if got := MimeType(tt.in); got != tt.want {
			t.Errorf("MimeType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func fixedIDs() func() string {
	return func() string { return "42" }
}

func TestFileName(t *testing.T) {
	n := NewNamer(WithIDs(fixedIDs()))

	tests := []struct {
		in, want string
	}{
		{"https://site.com/path/photo.JPG", "photo.JPG"},
		{"https://site.com/path/noext", "image_42.png"},
		{"https://site.com/path/page.php?id=1", "image_42.png"},
		{"https://site.com/a%20b.webp", "a b.webp"},
		{"data:image/jpeg;base64,/9j/4AAQ", "image_42.jpg"},
		{"data:image/svg+xml;base64,PHN2Zy8+", "image_42.svg"},
		{"blob:imgscout/0a1b2c.svg", "0a1b2c.svg"},
		{"blob:https://x/5f1c-88", "image_42.png"},
	}
	for _, tt := range tests {
		if got := n.FileName(tt.in); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName_DefaultIDsAreUnique(t *testing.T) {
	a := FileName("https://x/noext")
	b := FileName("https://x/noext")
	if a == b {
		t.Fatalf("synthesised names collide: %q", a)
	}
	if !strings.HasPrefix(a, "image_") || !strings.HasSuffix(a, ".png") {
		t.Errorf("unexpected synthesised name %q", a)
	}
}
