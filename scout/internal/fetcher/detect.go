package fetcher

import (
	"bytes"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// shellMarkers are empty mount points and noscript notices left by
// client-rendered apps.
var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether html can be scanned without a browser: it
// must not be an app shell, and it must carry either real text or image
// markup of its own.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, m) {
			return false
		}
	}

	st := measure(body)
	if st.images >= 3 {
		return true
	}
	total := st.text + st.markup
	if total == 0 {
		return false
	}
	if float64(st.text)/float64(total) < 0.10 {
		return false
	}
	return st.text >= 200
}

type stats struct {
	text   int // visible non-space bytes
	markup int // tag, script and style bytes
	images int // img, picture source, and inline svg elements
}

func measure(body []byte) stats {
	var st stats
	z := html.NewTokenizer(bytes.NewReader(body))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return st
		case html.TextToken:
			raw := z.Raw()
			if skip > 0 {
				st.markup += len(raw)
				continue
			}
			for _, c := range raw {
				if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
					st.text++
				}
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			st.markup += len(z.Raw())
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style, atom.Template:
				if tt == html.StartTagToken {
					skip++
				}
			case atom.Img, atom.Svg:
				st.images++
			case atom.Source:
				if hasAttr(z, "srcset") {
					st.images++
				}
			}
		case html.EndTagToken:
			st.markup += len(z.Raw())
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style, atom.Template:
				if skip > 0 {
					skip--
				}
			}
		default:
			st.markup += len(z.Raw())
		}
	}
}

func hasAttr(z *html.Tokenizer, name string) bool {
	for {
		k, _, more := z.TagAttr()
		if string(k) == name {
			return true
		}
		if !more {
			return false
		}
	}
}
