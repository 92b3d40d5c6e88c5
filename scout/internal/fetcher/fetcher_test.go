package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const article = `<!DOCTYPE html>
<html>
<head><title>Test Page</title></head>
<body>
<main>
<article>
<h1>Article Title</h1>
<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.</p>
</article>
</main>
</body>
</html>`

func TestIsSufficient(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"static article", article, true},
		{"spa shell", `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>App</title></head>
<body>
<div id="root"></div>
<script src="/static/js/main.chunk.js"></script>
<script>window.__INITIAL_STATE__ = {"a": "` + strings.Repeat("x", 400) + `"}</script>
</body>
</html>`, false},
		{"too short", `<html><body>hi</body></html>`, false},
		{"empty body", `<!DOCTYPE html><html><head></head><body></body>` + strings.Repeat(" ", 300) + `</html>`, false},
		{"image gallery without text", `<!DOCTYPE html><html><head><title>Gallery</title></head><body>
<div class="grid">
<img src="/a.jpg" alt=""><img src="/b.jpg" alt=""><img src="/c.jpg" alt="">
<picture><source srcset="/d.webp 1x"><img src="/d.jpg"></picture>
<img src="/e.jpg" alt="sunset over the bay"><img src="/f.jpg" alt="harbour at dawn">
</div></body></html>`, true},
		{"script text is not content", `<!DOCTYPE html><html><head><script>` + strings.Repeat("var a = 1;", 100) + `</script></head><body><p>x</p></body></html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSufficient([]byte(tt.html)); got != tt.want {
				t.Errorf("IsSufficient = %v, want %v (%+v)", got, tt.want, measure([]byte(tt.html)))
			}
		})
	}
}

func TestMeasure(t *testing.T) {
	st := measure([]byte(`<div>Hello World</div><script>ignored()</script><img src="a.png"><svg></svg>`))
	if st.text != len("HelloWorld") {
		t.Errorf("text = %d", st.text)
	}
	if st.images != 2 {
		t.Errorf("images = %d", st.images)
	}
	if st.markup == 0 {
		t.Error("expected markup")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/page", http.StatusFound)
		case "/page":
			if !strings.HasPrefix(r.Header.Get("Accept"), "text/html") {
				t.Errorf("accept = %q", r.Header.Get("Accept"))
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(article))
		case "/pic.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("PNG"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(WithUserAgent("test"))
	res, err := f.Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatal(err)
	}
	if res.URL != srv.URL+"/page" || !res.Sufficient || res.StatusCode != 200 {
		t.Errorf("result = %+v", res)
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/pic.png"); err == nil {
		t.Error("expected non-html error")
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("expected status error")
	}
}
