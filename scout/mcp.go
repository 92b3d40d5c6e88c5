package scout

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/kit"
	"github.com/hazyhaar/imgscout/resolve"
	"github.com/hazyhaar/imgscout/sink"
)

// maxInlineBytes is the largest payload imgscout_resolve returns inline.
const maxInlineBytes = 4 << 20

// RegisterMCP registers the imgscout tools on an MCP server.
func (s *Scout) RegisterMCP(srv *mcp.Server) {
	s.registerScanTool(srv)
	s.registerImagesTool(srv)
	s.registerResolveTool(srv)
	s.registerHistoryTool(srv)
}

func (s *Scout) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(tagSession, kit.Logging(s.logger, name))(ep)
}

// sessionScoped is implemented by requests that name a session.
type sessionScoped interface{ session() string }

func (r *scanReq) session() string    { return r.SessionID }
func (r *imagesReq) session() string  { return r.SessionID }
func (r *resolveReq) session() string { return r.SessionID }

// tagSession puts the request's session id on the context for logging.
func tagSession(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		if r, ok := req.(sessionScoped); ok && r.session() != "" {
			ctx = kit.WithSessionID(ctx, r.session())
		}
		return next(ctx, req)
	}
}

// --- scan ---

type scanReq struct {
	URL          string   `json:"url"`
	SessionID    string   `json:"session_id"`
	StealthLevel string   `json:"stealth_level"`
	Watch        bool     `json:"watch"`
	Attributes   []string `json:"attributes"`
}

type scanResp struct {
	Status
	Images []event.DiscoveredImage `json:"images"`
}

func (s *Scout) registerScanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "imgscout_scan",
		Description: "Open a page (or rescan an open session) and list every image it references: img/srcset, CSS backgrounds, canvas, inline SVG, shadow DOM and same-origin frames.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"url":           map[string]any{"type": "string", "description": "Page URL to open"},
			"session_id":    map[string]any{"type": "string", "description": "Rescan this open session instead of opening url"},
			"stealth_level": map[string]any{"type": "string", "enum": []string{"auto", "0", "1", "2"}, "description": "0 = HTTP only, 1 = headless, 2 = headful, auto = HTTP then escalate"},
			"watch":         map[string]any{"type": "boolean", "description": "Keep the page open and rescan on DOM changes"},
			"attributes":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Attribute changes that trigger a rescan"},
		}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scanReq)
		var sess *Session
		var err error
		if r.SessionID != "" {
			if sess, err = s.Session(r.SessionID); err != nil {
				return nil, err
			}
			if _, err := sess.Rescan(ctx); err != nil {
				return nil, err
			}
		} else {
			if r.URL == "" {
				return nil, fmt.Errorf("url or session_id is required")
			}
			sess, err = s.Open(ctx, PageConfig{
				URL:          r.URL,
				StealthLevel: r.StealthLevel,
				Watch:        r.Watch,
				Attributes:   r.Attributes,
			})
			if err != nil {
				return nil, err
			}
		}
		return scanResp{Status: sess.Status(), Images: sess.Images(sink.Query{})}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[scanReq]())
}

// --- images ---

type imagesReq struct {
	SessionID string `json:"session_id"`
	Search    string `json:"search"`
	MimeType  string `json:"mime_type"`
	Sort      string `json:"sort"`
	Desc      bool   `json:"desc"`
	Limit     int    `json:"limit"`
	Format    string `json:"format"`
}

func (s *Scout) registerImagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "imgscout_images",
		Description: "List the images of an open session with optional search, type filter and sort. format=markdown or html renders a gallery.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"session_id": map[string]any{"type": "string"},
			"search":     map[string]any{"type": "string", "description": "Case-insensitive match on file name or source"},
			"mime_type":  map[string]any{"type": "string", "description": "MIME prefix, e.g. image/svg"},
			"sort":       map[string]any{"type": "string", "enum": []string{"discovered", "name", "type", "source"}},
			"desc":       map[string]any{"type": "boolean"},
			"limit":      map[string]any{"type": "integer"},
			"format":     map[string]any{"type": "string", "enum": []string{"json", "markdown", "html"}},
		}, "session_id"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*imagesReq)
		sess, err := s.Session(r.SessionID)
		if err != nil {
			return nil, err
		}
		q := sink.Query{
			Search:   r.Search,
			MimeType: r.MimeType,
			Sort:     sink.SortKey(r.Sort),
			Desc:     r.Desc,
			Limit:    r.Limit,
		}
		switch r.Format {
		case "", "json":
			return map[string]any{"epoch": sess.scanner.Epoch(), "images": sess.Images(q)}, nil
		case "markdown":
			md, err := sess.gallery.Markdown(q, sess.URL)
			if err != nil {
				return nil, err
			}
			return map[string]string{"markdown": md}, nil
		case "html":
			h, err := sess.gallery.HTML(q)
			if err != nil {
				return nil, err
			}
			return map[string]string{"html": h}, nil
		}
		return nil, fmt.Errorf("unknown format %q", r.Format)
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[imagesReq]())
}

// --- resolve ---

type resolveReq struct {
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
	Dir       string `json:"dir"`
}

type resolveResp struct {
	Source   string `json:"source"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Bytes    int    `json:"bytes"`
	Relayed  bool   `json:"relayed"`
	Path     string `json:"path,omitempty"`
	Base64   string `json:"base64,omitempty"`
}

func (s *Scout) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "imgscout_resolve",
		Description: "Download one discovered image. With dir the file is saved there; otherwise small payloads are returned base64-encoded.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"source":     map[string]any{"type": "string", "description": "Image source as listed by imgscout_images"},
			"session_id": map[string]any{"type": "string", "description": "Session the source was found in, for its type and file name"},
			"dir":        map[string]any{"type": "string", "description": "Directory to save into"},
		}, "source"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*resolveReq)
		ref := resolve.Ref{Source: r.Source}
		if r.SessionID != "" {
			sess, err := s.Session(r.SessionID)
			if err != nil {
				return nil, err
			}
			if img, ok := sess.gallery.Get(r.Source); ok {
				ref.MimeType, ref.Filename = img.MimeType, img.Filename
			}
		}

		p, err := s.resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		resp := resolveResp{
			Source:   p.Source,
			MimeType: p.MimeType,
			Filename: p.Filename,
			Bytes:    len(p.Data),
			Relayed:  p.Relayed,
		}
		switch {
		case r.Dir != "":
			if resp.Path, err = resolve.Save(r.Dir, p); err != nil {
				return nil, err
			}
		case len(p.Data) <= maxInlineBytes:
			resp.Base64 = base64.StdEncoding.EncodeToString(p.Data)
		}
		return resp, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[resolveReq]())
}

// --- history ---

type historyReq struct {
	URL    string `json:"url"`
	ScanID string `json:"scan_id"`
	Limit  int    `json:"limit"`
}

func (s *Scout) registerHistoryTool(srv *mcp.Server) {
	if s.history == nil {
		return
	}
	tool := &mcp.Tool{
		Name:        "imgscout_history",
		Description: "List past scans of a page, or the images recorded by one scan when scan_id is given.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"url":     map[string]any{"type": "string", "description": "Page URL; empty lists every page"},
			"scan_id": map[string]any{"type": "string"},
			"limit":   map[string]any{"type": "integer"},
		}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyReq)
		if r.ScanID != "" {
			imgs, err := s.HistoryImages(ctx, r.ScanID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"scan_id": r.ScanID, "images": imgs}, nil
		}
		scans, err := s.History(ctx, r.URL, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"scans": scans}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[historyReq]())
}
