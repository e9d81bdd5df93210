package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/koopa0/maestro/internal/capability"
	"github.com/koopa0/maestro/internal/genai"
	"github.com/koopa0/maestro/internal/intent"
	"github.com/koopa0/maestro/internal/log"
	"github.com/koopa0/maestro/internal/remote"
	"github.com/koopa0/maestro/internal/retrieval"
	"github.com/koopa0/maestro/internal/router"
	"github.com/koopa0/maestro/internal/turn"
)

// scriptedBackend replays canned model responses and records every request.
type scriptedBackend struct {
	script   []func(req *genai.Request, cb genai.StreamCallback) (*genai.Response, error)
	requests []*genai.Request
}

func (b *scriptedBackend) Generate(_ context.Context, req *genai.Request, cb genai.StreamCallback) (*genai.Response, error) {
	b.requests = append(b.requests, req)
	if len(b.requests) > len(b.script) {
		return nil, fmt.Errorf("unscripted model call %d", len(b.requests))
	}
	return b.script[len(b.requests)-1](req, cb)
}

func textTurn(text string) func(*genai.Request, genai.StreamCallback) (*genai.Response, error) {
	return func(_ *genai.Request, cb genai.StreamCallback) (*genai.Response, error) {
		if cb != nil {
			for _, piece := range strings.SplitAfter(text, " ") {
				chunk := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(piece)}}
				if err := cb(context.Background(), chunk); err != nil {
					return nil, err
				}
			}
		}
		return &genai.Response{Text: text, FinishReason: FinishNormal}, nil
	}
}

func toolTurn(name string, args map[string]any) func(*genai.Request, genai.StreamCallback) (*genai.Response, error) {
	return func(_ *genai.Request, _ genai.StreamCallback) (*genai.Response, error) {
		return &genai.Response{
			ToolRequests: []*ai.ToolRequest{{Name: name, Input: args}},
		}, nil
	}
}

// failEngine fails the test if the retrieval engine is ever reached.
type failEngine struct{ t *testing.T }

func (e *failEngine) Search(context.Context, string, retrieval.Profile, *retrieval.Filter, *retrieval.Scope) (string, error) {
	e.t.Error("retrieval engine invoked for a conversation without a data source")
	return "", nil
}

// fixedIndex returns a canned result set for every search.
type fixedIndex struct{ results []retrieval.Result }

func (ix *fixedIndex) Search(context.Context, retrieval.Profile, []float32, int, string) ([]retrieval.Result, error) {
	return ix.results, nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubDiscoverer struct {
	caps map[string]*remote.ServerCapabilities
}

func (d *stubDiscoverer) Capabilities(_ context.Context, id string) (*remote.ServerCapabilities, error) {
	caps, ok := d.caps[id]
	if !ok {
		return nil, errors.New("unknown connection")
	}
	return caps, nil
}

type slowClassifier struct{}

func (slowClassifier) Classify(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(time.Second):
		return `{"matches": []}`, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// noRemote satisfies the router's session provider for turns that never
// dispatch remotely.
type noRemote struct{}

func (noRemote) Session(_ context.Context, id string) (remote.Session, error) {
	return nil, fmt.Errorf("%w: %q", remote.ErrConnectionNotFound, id)
}

func defaultPipeline() *intent.Pipeline {
	return intent.NewPipeline(log.Nop(),
		intent.NewKeywordStrategy(nil),
		&intent.DataSourceStrategy{SearchToolName: SearchToolName},
		intent.RemotePresenceStrategy{},
	)
}

func newConv(dataSource string) *turn.ConversationContext {
	return &turn.ConversationContext{
		SessionID:     uuid.New(),
		SystemMessage: "You are a helpful assistant.",
		DataSourceID:  dataSource,
	}
}

func buildOrchestrator(t *testing.T, backend ChatBackend, engine Searcher, pipeline IntentResolver) *Orchestrator {
	t.Helper()
	if pipeline == nil {
		pipeline = defaultPipeline()
	}
	o, err := New(Config{
		Backend:      backend,
		Intent:       pipeline,
		Capabilities: capability.NewRegistry(nil, log.Nop()),
		Router:       router.New(noRemote{}, log.Nop()),
		Engine:       engine,
		Profile:      retrieval.Profile{Provider: "test", TopN: 5, StrictnessMax: 5},
		Logger:       log.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRun_DirectAnswerWithoutDataSource(t *testing.T) {
	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		textTurn("The capital of France is Paris."),
	}}
	o := buildOrchestrator(t, backend, &failEngine{t: t}, nil)

	var deltas []string
	var final *Chunk
	stream := func(c Chunk) error {
		if c.FinalText != "" || c.FinishReason != "" {
			final = &c
			return nil
		}
		deltas = append(deltas, c.TextDelta)
		return nil
	}

	res, err := o.Run(context.Background(), newConv(""), "What is the capital of France?", stream)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalText != "The capital of France is Paris." {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
	if len(res.Citations) != 0 {
		t.Errorf("Citations = %v, want none", res.Citations)
	}
	if strings.Join(deltas, "") != res.FinalText {
		t.Errorf("streamed %q, want the full answer in order", strings.Join(deltas, ""))
	}
	if final == nil || final.FinishReason != FinishNormal {
		t.Errorf("final chunk = %+v", final)
	}
	// No data source means the search capability is never exposed.
	for _, e := range backend.requests[0].Capabilities {
		if e.Name == SearchToolName {
			t.Error("search capability exposed without a data source")
		}
	}
}

func TestRun_RetrievalWithCitations(t *testing.T) {
	index := &fixedIndex{results: []retrieval.Result{
		{Content: "Q1 revenue was 1.2M", Title: "Sheet1", SourceID: "row-1", SourceType: "spreadsheet", Score: 0.95},
		{Content: "Q2 revenue was 1.4M", Title: "Sheet2", SourceID: "row-2", SourceType: "spreadsheet", Score: 0.9},
		{Content: "Q3 revenue was 1.1M", Title: "Sheet3", SourceID: "row-3", SourceType: "spreadsheet", Score: 0.85},
	}}
	engine, err := retrieval.NewEngine(retrieval.EngineConfig{
		Embedders: map[string]retrieval.Embedder{"test": unitEmbedder{}},
		Index:     index,
		Logger:    log.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var searchOutput string
	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		toolTurn(SearchToolName, map[string]any{"query": "find quarterly revenue"}),
		func(req *genai.Request, _ genai.StreamCallback) (*genai.Response, error) {
			// The search result travels back as the tool response of the
			// second call's message history.
			last := req.Messages[len(req.Messages)-1]
			if last.Role != ai.RoleTool {
				t.Fatalf("last message role = %s, want tool", last.Role)
			}
			searchOutput, _ = last.Content[0].ToolResponse.Output.(string)
			return &genai.Response{Text: "Revenue grew across quarters [doc:1][doc:2][doc:3].", FinishReason: FinishNormal}, nil
		},
	}}
	o := buildOrchestrator(t, backend, engine, nil)

	res, err := o.Run(context.Background(), newConv("spreadsheet-index"), "find the quarterly revenue in my spreadsheet", nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Citations) != 3 {
		t.Fatalf("got %d citations, want 3", len(res.Citations))
	}
	for i, c := range res.Citations {
		if c.Ordinal != i+1 {
			t.Errorf("citation %d ordinal = %d, want gapless ascending", i, c.Ordinal)
		}
	}
	for n := 1; n <= 3; n++ {
		if !strings.Contains(searchOutput, fmt.Sprintf("[doc:%d]", n)) {
			t.Errorf("search output missing [doc:%d] marker:\n%s", n, searchOutput)
		}
	}
	if !strings.Contains(searchOutput, "References:") {
		t.Errorf("search output missing references section:\n%s", searchOutput)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
}

func TestRun_ClassifierTimeoutStillCompletes(t *testing.T) {
	disc := &stubDiscoverer{caps: map[string]*remote.ServerCapabilities{
		"github": {ConnectionID: "github", DisplayName: "GitHub",
			Tools: []remote.Item{{Name: "create_issue", Description: "Create an issue"}}},
		"jira": {ConnectionID: "jira", DisplayName: "Jira",
			Tools: []remote.Item{{Name: "create_ticket", Description: "Create a ticket"}}},
	}}
	pipeline := intent.NewPipeline(log.Nop(),
		intent.RemotePresenceStrategy{},
		intent.NewRemoteMatcher(slowClassifier{}, disc, 10*time.Millisecond, log.Nop()),
	)

	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		textTurn("Which tracker should I use?"),
	}}

	o, err := New(Config{
		Backend:      backend,
		Intent:       pipeline,
		Capabilities: capability.NewRegistry(disc, log.Nop()),
		Router:       router.New(noRemote{}, log.Nop()),
		Logger:       log.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	conv := newConv("")
	conv.RemoteConnectionIDs = []string{"github", "jira"}

	res, err := o.Run(context.Background(), conv, "file this bug somewhere", nil)
	if err != nil {
		t.Fatalf("turn failed on classifier timeout: %v", err)
	}
	if res.FinishReason != FinishNormal {
		t.Errorf("FinishReason = %q", res.FinishReason)
	}

	// Fallback-to-all: the full candidate set reaches the model.
	names := make(map[string]bool)
	for _, e := range backend.requests[0].Capabilities {
		names[e.Name] = true
	}
	if !names["create_issue"] || !names["create_ticket"] {
		t.Errorf("exposed capabilities = %v, want full candidate set", names)
	}
}

func TestRun_MaxIterations(t *testing.T) {
	always := toolTurn(SearchToolName, map[string]any{"query": "again"})
	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		always, always, always,
	}}

	engine, err := retrieval.NewEngine(retrieval.EngineConfig{
		Embedders: map[string]retrieval.Embedder{"test": unitEmbedder{}},
		Index:     &fixedIndex{},
		Logger:    log.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	o, err := New(Config{
		Backend:       backend,
		Intent:        defaultPipeline(),
		Capabilities:  capability.NewRegistry(nil, log.Nop()),
		Router:        router.New(noRemote{}, log.Nop()),
		Engine:        engine,
		Profile:       retrieval.Profile{Provider: "test", TopN: 5, StrictnessMax: 5},
		MaxIterations: 3,
		Logger:        log.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Run(context.Background(), newConv("ds-1"), "search forever", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinishReason != FinishMaxIterations {
		t.Errorf("FinishReason = %q, want %q", res.FinishReason, FinishMaxIterations)
	}
	if res.FinalText != MaxIterationsMessage {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations = %d, want the configured bound", res.Iterations)
	}
}

func TestRun_UnknownCapabilityFedBackAsPayload(t *testing.T) {
	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		toolTurn("nonexistent_tool", nil),
		func(req *genai.Request, _ genai.StreamCallback) (*genai.Response, error) {
			last := req.Messages[len(req.Messages)-1]
			raw, _ := last.Content[0].ToolResponse.Output.(string)
			var payload struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				t.Fatalf("tool response is not a structured payload: %v", err)
			}
			if payload.Error.Code != router.CodeUnknownCapability {
				t.Errorf("code = %q", payload.Error.Code)
			}
			return &genai.Response{Text: "That tool does not exist.", FinishReason: FinishNormal}, nil
		},
	}}
	o := buildOrchestrator(t, backend, nil, nil)

	res, err := o.Run(context.Background(), newConv(""), "run the magic tool", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalText != "That tool does not exist." {
		t.Errorf("FinalText = %q", res.FinalText)
	}
}

func TestRun_EmptyResponseGetsFallback(t *testing.T) {
	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		func(_ *genai.Request, _ genai.StreamCallback) (*genai.Response, error) {
			return &genai.Response{Text: "   ", FinishReason: FinishNormal}, nil
		},
	}}
	o := buildOrchestrator(t, backend, nil, nil)

	res, err := o.Run(context.Background(), newConv(""), "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalText != FallbackResponseMessage {
		t.Errorf("FinalText = %q, want the fallback message", res.FinalText)
	}
}

func TestRun_BackendErrorFailsTurn(t *testing.T) {
	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		func(_ *genai.Request, _ genai.StreamCallback) (*genai.Response, error) {
			return nil, errors.New("upstream unavailable")
		},
	}}
	o := buildOrchestrator(t, backend, nil, nil)

	if _, err := o.Run(context.Background(), newConv(""), "hello", nil); err == nil {
		t.Fatal("main completion failure must surface as a turn failure")
	}
}

func TestRun_HistoryNotMutated(t *testing.T) {
	backend := &scriptedBackend{script: []func(*genai.Request, genai.StreamCallback) (*genai.Response, error){
		textTurn("hi"),
	}}
	o := buildOrchestrator(t, backend, nil, nil)

	conv := newConv("")
	conv.History = []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("earlier question")),
		ai.NewModelMessage(ai.NewTextPart("earlier answer")),
	}

	if _, err := o.Run(context.Background(), conv, "next question", nil); err != nil {
		t.Fatal(err)
	}
	if len(conv.History) != 2 {
		t.Fatalf("conversation history length changed to %d", len(conv.History))
	}
	sent := backend.requests[0].Messages
	if len(sent) != 3 {
		t.Fatalf("model saw %d messages, want history plus prompt", len(sent))
	}
	if conv.History[0] == sent[0] {
		t.Error("history messages shared with the model request, want deep copies")
	}
}
