package scout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "imgscout-test", Version: "0.1.0"}

func mcpSession(t *testing.T, s *Scout) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	s.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_ScanImagesResolve(t *testing.T) {
	srv := site(t)
	session := mcpSession(t, newScout(t, nil))

	text := mcpCallTool(t, session, "imgscout_scan", map[string]any{
		"url":           srv.URL + "/page",
		"stealth_level": "0",
	})
	var scan struct {
		SessionID string `json:"session_id"`
		Epoch     uint64 `json:"epoch"`
		Complete  bool   `json:"complete"`
		Images    []struct {
			Source   string `json:"source"`
			MimeType string `json:"mime_type"`
		} `json:"images"`
	}
	if err := json.Unmarshal([]byte(text), &scan); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if scan.SessionID == "" || scan.Epoch != 1 || !scan.Complete || len(scan.Images) != 3 {
		t.Fatalf("scan = %+v", scan)
	}

	// Rescanning by session id moves to the next epoch.
	text = mcpCallTool(t, session, "imgscout_scan", map[string]any{"session_id": scan.SessionID})
	if !strings.Contains(text, `"epoch":2`) {
		t.Errorf("rescan: %s", text)
	}

	text = mcpCallTool(t, session, "imgscout_images", map[string]any{
		"session_id": scan.SessionID,
		"search":     "bg",
	})
	var listed struct {
		Images []struct {
			Source string `json:"source"`
		} `json:"images"`
	}
	if err := json.Unmarshal([]byte(text), &listed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(listed.Images) != 1 || listed.Images[0].Source != srv.URL+"/img/bg.webp" {
		t.Errorf("search = %+v", listed.Images)
	}

	text = mcpCallTool(t, session, "imgscout_images", map[string]any{
		"session_id": scan.SessionID,
		"format":     "markdown",
	})
	if !strings.Contains(text, "framed.gif") {
		t.Errorf("markdown gallery missing framed.gif: %s", text)
	}

	text = mcpCallTool(t, session, "imgscout_resolve", map[string]any{
		"source":     srv.URL + "/img/a.png",
		"session_id": scan.SessionID,
	})
	var res struct {
		MimeType string `json:"mime_type"`
		Filename string `json:"filename"`
		Base64   string `json:"base64"`
	}
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, _ := base64.StdEncoding.DecodeString(res.Base64)
	if string(data) != "A.PNG" || res.Filename != "a.png" || res.MimeType != "image/png" {
		t.Errorf("resolve = %+v (%q)", res, data)
	}

	dir := t.TempDir()
	text = mcpCallTool(t, session, "imgscout_resolve", map[string]any{
		"source": srv.URL + "/img/framed.gif",
		"dir":    dir,
	})
	if _, err := os.Stat(filepath.Join(dir, "framed.gif")); err != nil {
		t.Errorf("not saved: %v (%s)", err, text)
	}
}

func TestMCP_UnknownSession(t *testing.T) {
	session := mcpSession(t, newScout(t, nil))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "imgscout_images",
		Arguments: map[string]any{"session_id": "ses_missing"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for unknown session")
	}
}

func TestMCP_History(t *testing.T) {
	srv := site(t)
	cfg := DefaultConfig()
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	session := mcpSession(t, newScout(t, cfg))

	mcpCallTool(t, session, "imgscout_scan", map[string]any{"url": srv.URL + "/page", "stealth_level": "0"})

	text := mcpCallTool(t, session, "imgscout_history", map[string]any{"url": srv.URL + "/page"})
	var hist struct {
		Scans []struct {
			ID         string `json:"id"`
			Discovered int    `json:"discovered"`
		} `json:"scans"`
	}
	if err := json.Unmarshal([]byte(text), &hist); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(hist.Scans) != 1 || hist.Scans[0].Discovered != 3 {
		t.Fatalf("history = %+v", hist)
	}

	text = mcpCallTool(t, session, "imgscout_history", map[string]any{"scan_id": hist.Scans[0].ID})
	if strings.Count(text, `"source"`) != 3 {
		t.Errorf("scan images: %s", text)
	}
}
