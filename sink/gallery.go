package sink

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"html/template"
	"slices"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/imgscout/event"
)

// SortKey orders gallery listings.
type SortKey string

const (
	SortDiscovered SortKey = "discovered"
	SortName       SortKey = "name"
	SortType       SortKey = "type"
	SortSource     SortKey = "source"
)

// Query filters and orders a gallery listing.
type Query struct {
	// Search matches case-insensitively against filename and source.
	Search string
	// MimeType keeps images whose type has this prefix ("image/svg", "image/").
	MimeType string
	Sort     SortKey
	Desc     bool
	Limit    int
}

// Gallery is the in-memory presentation model: the images of the freshest
// epoch, keyed by source. It is safe for concurrent use.
type Gallery struct {
	mu       sync.RWMutex
	epoch    uint64
	items    map[string]event.DiscoveredImage
	complete *event.ScanComplete

	sanitizer *bluemonday.Policy
	md        *converter.Converter
	page      *template.Template
}

// NewGallery creates an empty gallery.
func NewGallery() *Gallery {
	policy := bluemonday.UGCPolicy()
	policy.AllowDataURIImages()
	policy.AllowURLSchemes("http", "https", "blob")
	policy.AllowAttrs("class").Globally()

	return &Gallery{
		items:     make(map[string]event.DiscoveredImage),
		sanitizer: policy,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		page: template.Must(template.New("gallery").Parse(galleryHTML)),
	}
}

// Emit applies Clear, Discovered and ScanComplete. Events from an older
// epoch than the last Clear are ignored; re-announced sources are upserts.
func (g *Gallery) Emit(_ context.Context, ev event.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch e := ev.(type) {
	case event.Clear:
		g.epoch = e.Epoch
		clear(g.items)
		g.complete = nil
	case event.Discovered:
		if e.Epoch < g.epoch {
			return nil
		}
		g.items[e.Image.Source] = e.Image
	case event.ScanComplete:
		if e.Epoch < g.epoch {
			return nil
		}
		g.complete = &e
	}
	return nil
}

func (g *Gallery) Close() error { return nil }

// Epoch returns the epoch of the last Clear.
func (g *Gallery) Epoch() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.epoch
}

// Complete reports whether the current epoch's full scan finished.
func (g *Gallery) Complete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.complete != nil
}

// Len returns the number of images held.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

// Get returns the image with the given source.
func (g *Gallery) Get(source string) (event.DiscoveredImage, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	img, ok := g.items[source]
	return img, ok
}

// Items lists images matching q.
func (g *Gallery) Items(q Query) []event.DiscoveredImage {
	g.mu.RLock()
	out := make([]event.DiscoveredImage, 0, len(g.items))
	search := strings.ToLower(q.Search)
	for _, img := range g.items {
		if search != "" &&
			!strings.Contains(strings.ToLower(img.Filename), search) &&
			!strings.Contains(strings.ToLower(img.Source), search) {
			continue
		}
		if q.MimeType != "" && !strings.HasPrefix(img.MimeType, q.MimeType) {
			continue
		}
		out = append(out, img)
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b event.DiscoveredImage) int {
		var c int
		switch q.Sort {
		case SortName:
			c = cmp.Compare(strings.ToLower(a.Filename), strings.ToLower(b.Filename))
		case SortType:
			c = cmp.Compare(a.MimeType, b.MimeType)
		case SortSource:
			c = cmp.Compare(a.Source, b.Source)
		}
		if c == 0 {
			c = cmp.Compare(a.DiscoveredAt, b.DiscoveredAt)
		}
		if q.Desc {
			return -c
		}
		return c
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

const galleryHTML = `<div class="gallery">
<h1>Images ({{len .}})</h1>
<table>
<thead><tr><th>Preview</th><th>File</th><th>Type</th><th>Size</th><th>Found by</th></tr></thead>
<tbody>
{{range .}}<tr><td><img src="{{.Src}}" alt="{{.Filename}}"></td><td><a href="{{.Src}}">{{.Filename}}</a></td><td>{{.MimeType}}</td><td>{{.Dimensions}}</td><td>{{.OriginTag}} {{.Via}}</td></tr>
{{end}}</tbody>
</table>
</div>`

type row struct {
	event.DiscoveredImage
	Src template.URL
}

// HTML renders the listing as an HTML fragment. data: and blob: sources are
// passed through the template unescaped and the whole output is sanitised
// instead, since sources come from the page.
func (g *Gallery) HTML(q Query) (string, error) {
	items := g.Items(q)
	rows := make([]row, len(items))
	for i, img := range items {
		rows[i] = row{DiscoveredImage: img, Src: template.URL(img.Source)}
	}
	var buf bytes.Buffer
	if err := g.page.Execute(&buf, rows); err != nil {
		return "", fmt.Errorf("gallery: render: %w", err)
	}
	return g.sanitizer.Sanitize(buf.String()), nil
}

// Markdown renders the listing as Markdown, relative links resolved
// against pageURL.
func (g *Gallery) Markdown(q Query, pageURL string) (string, error) {
	h, err := g.HTML(q)
	if err != nil {
		return "", err
	}
	var opts []converter.ConvertOptionFunc
	if pageURL != "" {
		opts = append(opts, converter.WithDomain(pageURL))
	}
	md, err := g.md.ConvertString(h, opts...)
	if err != nil {
		return "", fmt.Errorf("gallery: markdown: %w", err)
	}
	return md, nil
}
