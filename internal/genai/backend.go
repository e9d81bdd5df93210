// Package genai adapts genkit to the narrow model-facing interfaces the
// turn loop, retrieval engine, and intent pipeline consume. Everything
// provider-specific (model naming, plugin registration, tool definition)
// stays behind this package.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/koopa0/maestro/internal/capability"
)

// Request is one model call. Messages carry the full turn so far,
// including earlier tool requests and responses within the same turn.
type Request struct {
	System       string
	Messages     []*ai.Message
	Capabilities []*capability.Entry

	// Temperature and MaxTokens override the backend defaults when > 0.
	Temperature float32
	MaxTokens   int
}

// Response is the terminal state of one model call. ToolRequests are
// returned unexecuted; the caller decides how to run them.
type Response struct {
	Text         string
	ToolRequests []*ai.ToolRequest
	FinishReason string
}

// StreamCallback receives partial output in generation order.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// BackendConfig configures the generate backend.
type BackendConfig struct {
	Genkit      *genkit.Genkit
	ModelName   string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Temperature float32
	MaxTokens   int

	// RequestsPerSecond throttles generate calls across all turns.
	// Zero disables throttling.
	RequestsPerSecond float64

	Logger *slog.Logger
}

// Backend issues streaming completions through genkit. Safe for concurrent
// use; tool definitions are registered once per capability name.
type Backend struct {
	g           *genkit.Genkit
	modelName   string
	temperature float32
	maxTokens   int
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu      sync.Mutex
	defined map[string]ai.Tool
}

// NewBackend creates the backend.
func NewBackend(cfg BackendConfig) (*Backend, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Backend{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     limiter,
		logger:      logger,
		defined:     make(map[string]ai.Tool),
	}, nil
}

// Generate issues one model call. Tool requests come back unexecuted via
// ai.WithReturnToolRequests so the caller owns the invocation loop.
func (b *Backend) Generate(ctx context.Context, req *Request, cb StreamCallback) (*Response, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	temperature := b.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := b.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(b.modelName),
		ai.WithMessages(req.Messages...),
		ai.WithReturnToolRequests(true),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     float64(temperature),
			MaxOutputTokens: maxTokens,
		}),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if refs := b.toolRefs(req.Capabilities); len(refs) > 0 {
		opts = append(opts, ai.WithTools(refs...))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return cb(ctx, chunk)
		}))
	}

	resp, err := genkit.Generate(ctx, b.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generating response: %w", err)
	}
	return &Response{
		Text:         resp.Text(),
		ToolRequests: resp.ToolRequests(),
		FinishReason: string(resp.FinishReason),
	}, nil
}

// toolRefs resolves or registers genkit tool definitions for the exposed
// capabilities. Handlers only run if a caller opts out of returning tool
// requests, so local handlers are wired and remote ones refuse.
//
// Definitions are cached by name because genkit's registry rejects redefining
// a tool. A later capability with the same name but a different schema keeps
// the first definition; that only affects the advertised input schema, since
// WithReturnToolRequests(true) hands every call back to the orchestrator,
// which dispatches on the current turn's entries rather than the cached
// closure.
func (b *Backend) toolRefs(entries []*capability.Entry) []ai.ToolRef {
	if len(entries) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	refs := make([]ai.ToolRef, 0, len(entries))
	for _, e := range entries {
		if t, ok := b.defined[e.Name]; ok {
			refs = append(refs, t)
			continue
		}
		t := b.defineTool(e)
		b.defined[e.Name] = t
		refs = append(refs, t)
	}
	return refs
}

func (b *Backend) defineTool(e *capability.Entry) ai.Tool {
	entry := e
	run := func(toolCtx *ai.ToolContext, input map[string]any) (string, error) {
		if !entry.Local() {
			return "", fmt.Errorf("capability %q executes through its remote connection", entry.Name)
		}
		h, err := entry.Bind()
		if err != nil {
			return "", err
		}
		return h(toolCtx.Context, input)
	}

	if schema := toSchemaMap(entry.Schema); schema != nil {
		return genkit.DefineToolWithInputSchema(b.g, entry.Name, entry.Description, schema,
			func(toolCtx *ai.ToolContext, input any) (string, error) {
				args, _ := input.(map[string]any)
				return run(toolCtx, args)
			})
	}
	return genkit.DefineTool(b.g, entry.Name, entry.Description, run)
}
