package extract

import (
	"reflect"
	"testing"
)

func TestCSSURLs(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"unquoted", `url(a.png)`, []string{"a.png"}},
		{"double quoted", `url("a.png")`, []string{"a.png"}},
		{"single quoted", `url('a.png')`, []string{"a.png"}},
		{"escaped quote", `url("a\"b.png")`, []string{`a"b.png`}},
		{"escaped paren", `url(a\).png)`, []string{"a).png"}},
		{"comma separated", `url("a.png"), url('b.png'),url(c.png)`, []string{"a.png", "b.png", "c.png"}},
		{"gradient first", `linear-gradient(rgba(0, 0, 0, 0.5), transparent), url(/bg.jpg)`, []string{"/bg.jpg"}},
		{"upper case", `URL("x.webp")`, []string{"x.webp"}},
		{"image-set", `image-set("a.png" 1x, "a@2x.png" 2x)`, []string{"a.png", "a@2x.png"}},
		{"webkit image-set", `-webkit-image-set(url(a.png) 1x, url(b.png) 2x)`, []string{"a.png", "b.png"}},
		{"data uri", `url(data:image/png;base64,iVBORw0KGgo=)`, []string{"data:image/png;base64,iVBORw0KGgo="}},
		{"quoted data uri", `url("data:image/png;base64,iVBORw0KGgo=")`, []string{"data:image/png;base64,iVBORw0KGgo="}},
		{"padded", `url(  "a.png"  )`, []string{"a.png"}},
		{"none", `none`, nil},
		{"empty url", `url()`, nil},
		{"unterminated string", `url("a.png`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CSSURLs(tt.value)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CSSURLs(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestSrcsetURLs(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"descriptors", "a.png 1x, b.png 2x", []string{"a.png", "b.png"}},
		{"widths", "small.jpg 480w,\n large.jpg 1080w", []string{"small.jpg", "large.jpg"}},
		{"no descriptors", "a.png, b.png", []string{"a.png", "b.png"}},
		{"bare commas", "a.png,b.png", []string{"a.png", "b.png"}},
		{"data uri", "data:image/png;base64,iVBORw0KGgo= 1x, b.png 2x", []string{"data:image/png;base64,iVBORw0KGgo=", "b.png"}},
		{"single", "  only.webp  ", []string{"only.webp"}},
		{"empty", " , ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SrcsetURLs(tt.value)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SrcsetURLs(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}
