package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/maestro/internal/capability"
	"github.com/koopa0/maestro/internal/log"
	"github.com/koopa0/maestro/internal/remote"
)

type fakeSession struct {
	remote.Session

	toolResult   *mcp.CallToolResult
	toolErr      error
	lastToolCall *mcp.CallToolParams

	promptResult *mcp.GetPromptResult
	promptErr    error

	resourceResult *mcp.ReadResourceResult
	resourceErr    error
	lastURI        string
}

func (s *fakeSession) CallTool(_ context.Context, p *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	s.lastToolCall = p
	return s.toolResult, s.toolErr
}

func (s *fakeSession) GetPrompt(_ context.Context, _ *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	return s.promptResult, s.promptErr
}

func (s *fakeSession) ReadResource(_ context.Context, p *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	s.lastURI = p.URI
	return s.resourceResult, s.resourceErr
}

type fakeProvider struct {
	sessions map[string]*fakeSession
	err      error
}

func (p *fakeProvider) Session(_ context.Context, id string) (remote.Session, error) {
	if p.err != nil {
		return nil, p.err
	}
	s, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", remote.ErrConnectionNotFound, id)
	}
	return s, nil
}

func decodePayload(t *testing.T, raw string) errorPayload {
	t.Helper()
	var p errorPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("result is not a structured payload: %v\nraw: %s", err, raw)
	}
	return p
}

func textResult(texts ...string) *mcp.CallToolResult {
	content := make([]mcp.Content, len(texts))
	for i, s := range texts {
		content[i] = &mcp.TextContent{Text: s}
	}
	return &mcp.CallToolResult{Content: content}
}

func TestDispatch_UnknownConnection(t *testing.T) {
	r := New(&fakeProvider{sessions: map[string]*fakeSession{}}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindTool, ConnectionID: "ghost", Name: "do_thing",
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	p := decodePayload(t, got)
	if p.Error.Code != CodeConnectionNotFound {
		t.Errorf("code = %q, want %q", p.Error.Code, CodeConnectionNotFound)
	}
	if p.Error.Connection != "ghost" {
		t.Errorf("connection = %q, want ghost", p.Error.Connection)
	}
}

func TestDispatch_ConnectFailure(t *testing.T) {
	r := New(&fakeProvider{err: errors.New("dial tcp: refused")}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindTool, ConnectionID: "github", Name: "create_issue",
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if p := decodePayload(t, got); p.Error.Code != CodeConnectFailure {
		t.Errorf("code = %q, want %q", p.Error.Code, CodeConnectFailure)
	}
}

func TestDispatch_ToolSuccess(t *testing.T) {
	sess := &fakeSession{toolResult: textResult("line one", "line two")}
	r := New(&fakeProvider{sessions: map[string]*fakeSession{"github": sess}}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindTool, ConnectionID: "github", Name: "create_issue",
		Arguments: map[string]any{"title": "bug", "count": json.Number("3")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "line one\nline two" {
		t.Errorf("result = %q", got)
	}
	if sess.lastToolCall.Name != "create_issue" {
		t.Errorf("called tool %q", sess.lastToolCall.Name)
	}
	args, ok := sess.lastToolCall.Arguments.(map[string]any)
	if !ok {
		t.Fatalf("arguments type %T", sess.lastToolCall.Arguments)
	}
	if n, ok := args["count"].(int64); !ok || n != 3 {
		t.Errorf("count = %v (%T), want int64 3", args["count"], args["count"])
	}
}

func TestDispatch_ToolResultError(t *testing.T) {
	res := textResult("repository does not exist")
	res.IsError = true
	sess := &fakeSession{toolResult: res}
	r := New(&fakeProvider{sessions: map[string]*fakeSession{"github": sess}}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindTool, ConnectionID: "github", Name: "create_issue",
	})
	if err != nil {
		t.Fatal(err)
	}
	p := decodePayload(t, got)
	if p.Error.Code != CodeInvocationError {
		t.Errorf("code = %q, want %q", p.Error.Code, CodeInvocationError)
	}
	if !strings.Contains(p.Error.Message, "repository does not exist") {
		t.Errorf("message %q lost the tool error text", p.Error.Message)
	}
}

func TestDispatch_ToolTransportError(t *testing.T) {
	sess := &fakeSession{toolErr: errors.New("stream reset")}
	r := New(&fakeProvider{sessions: map[string]*fakeSession{"github": sess}}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindTool, ConnectionID: "github", Name: "create_issue",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p := decodePayload(t, got); p.Error.Code != CodeInvocationError {
		t.Errorf("code = %q, want %q", p.Error.Code, CodeInvocationError)
	}
}

func TestDispatch_Prompt(t *testing.T) {
	sess := &fakeSession{promptResult: &mcp.GetPromptResult{
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: "summarize the diff"}},
			{Role: "assistant", Content: &mcp.TextContent{Text: "sure"}},
		},
	}}
	r := New(&fakeProvider{sessions: map[string]*fakeSession{"github": sess}}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindPrompt, ConnectionID: "github", Name: "summarize",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "user: summarize the diff\nassistant: sure" {
		t.Errorf("result = %q", got)
	}
}

func TestDispatch_Resource(t *testing.T) {
	sess := &fakeSession{resourceResult: &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: "doc://readme", MIMEType: "text/plain", Text: "hello"}},
	}}
	r := New(&fakeProvider{sessions: map[string]*fakeSession{"docs": sess}}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindResource, ConnectionID: "docs", Name: "readme", URI: "doc://readme",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("result = %q", got)
	}
	if sess.lastURI != "doc://readme" {
		t.Errorf("read uri %q", sess.lastURI)
	}
}

func TestDispatch_NoConnectionID(t *testing.T) {
	r := New(&fakeProvider{}, log.Nop())

	got, err := r.Dispatch(context.Background(), capability.Invocation{
		Kind: capability.KindTool, Name: "local_thing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p := decodePayload(t, got); p.Error.Code != CodeUnknownCapability {
		t.Errorf("code = %q, want %q", p.Error.Code, CodeUnknownCapability)
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(&fakeProvider{err: ctx.Err()}, log.Nop())

	_, err := r.Dispatch(ctx, capability.Invocation{
		Kind: capability.KindTool, ConnectionID: "github", Name: "x",
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNormalizeArguments(t *testing.T) {
	in := map[string]any{
		"num":  json.Number("42"),
		"frac": json.Number("2.5"),
		"raw":  json.RawMessage(`{"nested": true}`),
		"list": []any{json.Number("1"), "two"},
		"deep": map[string]any{"inner": json.Number("7")},
		"str":  "plain",
	}
	out := NormalizeArguments(in)

	if v := out["num"]; v != int64(42) {
		t.Errorf("num = %v (%T)", v, v)
	}
	if v := out["frac"]; v != 2.5 {
		t.Errorf("frac = %v (%T)", v, v)
	}
	raw, ok := out["raw"].(map[string]any)
	if !ok || raw["nested"] != true {
		t.Errorf("raw = %v", out["raw"])
	}
	list, ok := out["list"].([]any)
	if !ok || list[0] != int64(1) || list[1] != "two" {
		t.Errorf("list = %v", out["list"])
	}
	deep, ok := out["deep"].(map[string]any)
	if !ok || deep["inner"] != int64(7) {
		t.Errorf("deep = %v", out["deep"])
	}
	if out["str"] != "plain" {
		t.Errorf("str = %v", out["str"])
	}

	if got := NormalizeArguments(nil); got == nil || len(got) != 0 {
		t.Errorf("nil input should normalize to an empty map, got %v", got)
	}
}

func TestBoundProxy(t *testing.T) {
	sess := &fakeSession{toolResult: textResult("done")}
	r := New(&fakeProvider{sessions: map[string]*fakeSession{"github": sess}}, log.Nop())

	proxy := r.Bind(&capability.Entry{
		Name: "create_issue", Kind: capability.KindTool, ConnectionID: "github",
	})
	if proxy.Name() != "create_issue" {
		t.Errorf("Name() = %q", proxy.Name())
	}

	got, err := proxy.Call(context.Background(), map[string]any{"n": json.Number("1")})
	if err != nil {
		t.Fatal(err)
	}
	if got != "done" {
		t.Errorf("result = %q", got)
	}
	if sess.lastToolCall.Name != "create_issue" {
		t.Errorf("proxy called %q", sess.lastToolCall.Name)
	}
}
