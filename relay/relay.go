// Package relay is the privileged fetcher the resolver falls back to when a
// direct download fails: a small HTTP service answering GET /fetch?url=...
// with the upstream bytes, and a Client speaking to it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/imgscout/guard"
	"github.com/hazyhaar/imgscout/resolve"
	"github.com/hazyhaar/imgscout/shield"
)

// DefaultMaxBytes caps a relayed body.
const DefaultMaxBytes int64 = 32 << 20

// Config configures a Server.
type Config struct {
	// AllowPrivate disables the SSRF guard so loopback and private targets
	// can be fetched. Intended for tests and intranet pages.
	AllowPrivate bool
	MaxBytes     int64
	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit int
	Client    *http.Client
	Logger    *slog.Logger
}

// Server fetches URLs for callers.
type Server struct {
	cfg     Config
	limiter *shield.RateLimiter
}

// NewServer creates a relay server.
func NewServer(cfg Config) *Server {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg}
	if cfg.RateLimit > 0 {
		s.limiter = shield.NewRateLimiter(cfg.RateLimit, time.Minute)
	}
	return s
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.RelayStack(s.cfg.Logger, s.limiter) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/fetch", s.handleFetch)
	return r
}

// ListenAndServe serves the relay on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if s.limiter != nil {
		s.limiter.StartGC(ctx.Done())
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.cfg.Logger.Info("relay: listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay: serve: %w", err)
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	if err := s.validate(target); err != nil {
		log.Warn("relay: rejected target", "url", target, "error", err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Header.Set("Accept", resolve.AcceptImages)
	if ua := r.Header.Get("User-Agent"); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		log.Warn("relay: upstream failed", "url", target, "error", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		http.Error(w, "upstream status "+strconv.Itoa(resp.StatusCode), upstreamStatus(resp.StatusCode))
		return
	}
	data, err := guard.LimitedReadAll(resp.Body, s.cfg.MaxBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
	log.Debug("relay: fetched", "url", target, "bytes", len(data))
}

func (s *Server) validate(target string) error {
	if !s.cfg.AllowPrivate {
		return guard.ValidateURL(target)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("relay: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return guard.ErrUnsafeScheme
	}
	if u.Host == "" {
		return fmt.Errorf("relay: url has no host")
	}
	return nil
}

// upstreamStatus passes 404 and 410 through so the resolver can tell a
// missing image from a relay fault.
func upstreamStatus(code int) int {
	if code == http.StatusNotFound || code == http.StatusGone {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

// Client calls a relay Server. It implements resolve.Relay.
type Client struct {
	base string
	http *http.Client
}

var _ resolve.Relay = (*Client)(nil)

// NewClient targets the relay at baseURL (e.g. "http://127.0.0.1:8787").
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{base: baseURL, http: hc}
}

// Fetch asks the relay for rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	endpoint := c.base + "/fetch?url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("relay: new request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("relay: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("relay: %s: %w", rawURL, resolve.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := guard.LimitedReadAll(resp.Body, 512)
		return nil, "", fmt.Errorf("relay: status %d: %s", resp.StatusCode, msg)
	}
	data, err := guard.LimitedReadAll(resp.Body, DefaultMaxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("relay: read: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
