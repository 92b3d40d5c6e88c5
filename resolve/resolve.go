// Package resolve turns a discovered image source into bytes. data: URIs
// are decoded, synthetic blob: sources come from the registry, and http(s)
// sources are fetched directly with one fallback to a privileged Relay when
// the direct fetch fails. There are no retries.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/imgscout/blob"
	"github.com/hazyhaar/imgscout/classify"
	"github.com/hazyhaar/imgscout/guard"
)

// AcceptImages is the Accept header sent on direct fetches.
const AcceptImages = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"

// DefaultMaxBytes caps a single payload.
const DefaultMaxBytes int64 = 32 << 20

var (
	// ErrNotFound is returned when a blob source is unknown or an upstream
	// answered 404.
	ErrNotFound = errors.New("resolve: not found")

	// ErrUnsupported is returned for sources no path can fetch.
	ErrUnsupported = errors.New("resolve: unsupported source")
)

// Ref identifies what to resolve. MimeType and Filename are hints carried
// over from the discovery.
type Ref struct {
	Source   string `json:"source"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Payload is a resolved image. Data is shared between coalesced callers
// and must not be modified.
type Payload struct {
	Source   string
	MimeType string
	Filename string
	Data     []byte
	Relayed  bool
}

// Relay fetches a URL on behalf of the resolver from a context without the
// page's cross-origin restrictions.
type Relay interface {
	Fetch(ctx context.Context, rawURL string) (data []byte, mimeType string, err error)
}

// Resolver resolves sources. Safe for concurrent use.
type Resolver struct {
	client   *http.Client
	blobs    *blob.Store
	relay    Relay
	maxBytes int64
	logger   *slog.Logger
	group    singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClient sets the HTTP client for direct fetches.
func WithClient(c *http.Client) Option { return func(r *Resolver) { r.client = c } }

// WithBlobs sets the registry consulted for blob: sources.
func WithBlobs(s *blob.Store) Option { return func(r *Resolver) { r.blobs = s } }

// WithRelay sets the fallback used when a direct fetch fails.
func WithRelay(rl Relay) Option { return func(r *Resolver) { r.relay = rl } }

// WithMaxBytes caps payload size.
func WithMaxBytes(n int64) Option { return func(r *Resolver) { r.maxBytes = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve fetches ref. Concurrent calls for the same source share one fetch.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (Payload, error) {
	if ref.Source == "" {
		return Payload{}, fmt.Errorf("resolve: empty source")
	}
	// The flight outlives any one caller; each caller waits on its own ctx.
	ch := r.group.DoChan(ref.Source, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), ref)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Payload{}, fmt.Errorf("resolve: %w", ctx.Err())
	}
	if res.Err != nil {
		return Payload{}, res.Err
	}
	if res.Shared {
		r.logger.Debug("resolve: coalesced", "source", abbrev(ref.Source))
	}
	p := res.Val.(Payload)
	if ref.Filename != "" {
		p.Filename = ref.Filename
	}
	return p, nil
}

func (r *Resolver) resolve(ctx context.Context, ref Ref) (Payload, error) {
	p := Payload{Source: ref.Source, Filename: ref.Filename}
	if p.Filename == "" {
		p.Filename = classify.FileName(ref.Source)
	}

	switch {
	case strings.HasPrefix(ref.Source, "data:"):
		mt, data, err := classify.DecodeDataImage(ref.Source)
		if err != nil {
			return Payload{}, fmt.Errorf("resolve: decode: %w", err)
		}
		p.MimeType, p.Data = mt, data
		return p, nil

	case blob.Owns(ref.Source):
		if r.blobs == nil {
			return Payload{}, fmt.Errorf("resolve: %w: no blob registry", ErrNotFound)
		}
		e, err := r.blobs.Get(ref.Source)
		if err != nil {
			return Payload{}, fmt.Errorf("resolve: %w", ErrNotFound)
		}
		p.MimeType, p.Data = e.MimeType, e.Data
		return p, nil

	case isHTTP(ref.Source):
		data, mt, err := r.direct(ctx, ref.Source)
		if err != nil {
			if r.relay == nil || ctx.Err() != nil {
				return Payload{}, err
			}
			r.logger.Debug("resolve: direct fetch failed, relaying", "source", ref.Source, "error", err)
			data, mt, err = r.relay.Fetch(ctx, ref.Source)
			if err != nil {
				return Payload{}, fmt.Errorf("resolve: relay: %w", err)
			}
			p.Relayed = true
		}
		p.Data = data
		p.MimeType = pickMIME(mt, ref.MimeType, ref.Source)
		return p, nil
	}
	return Payload{}, fmt.Errorf("%w: %s", ErrUnsupported, abbrev(ref.Source))
}

func (r *Resolver) direct(ctx context.Context, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("resolve: new request: %w", err)
	}
	req.Header.Set("Accept", AcceptImages)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("resolve: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("resolve: get %s: %w", src, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("resolve: get %s: status %d", src, resp.StatusCode)
	}
	data, err := guard.LimitedReadAll(resp.Body, r.maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("resolve: read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// maxSaveAttempts bounds the "name (n).ext" suffixes Save tries.
const maxSaveAttempts = 1000

// Save writes p under dir using its filename and returns the path written.
// An existing file is never replaced: the name gets a " (n)" suffix.
func Save(dir string, p Payload) (string, error) {
	name := p.Filename
	if name == "" {
		name = classify.FileName(p.Source)
	}
	if _, err := guard.SafePath(dir, name); err != nil {
		return "", fmt.Errorf("resolve: save %q: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("resolve: mkdir: %w", err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := range maxSaveAttempts {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path, err := guard.SafePath(dir, candidate)
		if err != nil {
			return "", fmt.Errorf("resolve: save %q: %w", candidate, err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolve: create: %w", err)
		}
		_, werr := f.Write(p.Data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return "", fmt.Errorf("resolve: write: %w", werr)
		}
		return path, nil
	}
	return "", fmt.Errorf("resolve: save %q: %d names taken", name, maxSaveAttempts)
}

// pickMIME prefers a specific upstream content type, then the discovery
// hint, then the source's extension.
func pickMIME(header, hint, src string) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if hint != "" {
		return hint
	}
	return classify.MimeType(src)
}

func isHTTP(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func abbrev(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
