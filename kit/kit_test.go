package kit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	errFail := errors.New("fail")
	var calls int
	base := func(_ context.Context, req any) (any, error) {
		calls++
		if req == "bad" {
			return nil, errFail
		}
		return req, nil
	}
	ep := Logging(nil, "echo")(base)

	ctx := WithSessionID(WithTransport(context.Background(), "mcp"), "ses_1")
	resp, err := ep(ctx, "hi")
	if err != nil || resp != "hi" {
		t.Fatalf("got %v, %v", resp, err)
	}
	if _, err := ep(ctx, "bad"); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestContext_Transport_Default(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
}

func TestContext_Transport_Set(t *testing.T) {
	ctx := WithTransport(context.Background(), "mcp")
	if v := GetTransport(ctx); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetSessionID(ctx) != "" || GetRemoteAddr(ctx) != "" {
		t.Fatal("expected empty defaults")
	}
	ctx = WithTraceID(ctx, "trc_xyz")
	ctx = WithSessionID(ctx, "ses_1")
	ctx = WithRemoteAddr(ctx, "192.0.2.1")
	if GetTraceID(ctx) != "trc_xyz" || GetSessionID(ctx) != "ses_1" || GetRemoteAddr(ctx) != "192.0.2.1" {
		t.Fatal("values not round-tripped")
	}
}

type echoReq struct {
	Text string `json:"text"`
}

func TestCallTool(t *testing.T) {
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		if r.Text == "" {
			return nil, errors.New("empty")
		}
		return map[string]string{"text": r.Text, "transport": GetTransport(ctx)}, nil
	}
	call := func(args string) *mcp.CallToolResult {
		req := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Arguments: json.RawMessage(args)}}
		return callTool(WithTransport(context.Background(), "mcp"), req, endpoint, DecodeJSON[echoReq]())
	}

	res := call(`{"text":"hi"}`)
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if text != `{"text":"hi","transport":"mcp"}` {
		t.Errorf("text = %s", text)
	}

	if res := call(`{"text":"`); !res.IsError {
		t.Error("bad JSON: expected tool error")
	}
	if res := call(`{}`); !res.IsError {
		t.Error("endpoint error: expected tool error")
	}
}

func TestObjectSchema(t *testing.T) {
	s := ObjectSchema(map[string]any{"url": map[string]any{"type": "string"}}, "url")
	if s["type"] != "object" {
		t.Errorf("type = %v", s["type"])
	}
	if req, _ := s["required"].([]string); len(req) != 1 || req[0] != "url" {
		t.Errorf("required = %v", s["required"])
	}
	if _, ok := ObjectSchema(nil)["required"]; ok {
		t.Error("required set without names")
	}
}
