// Package orchestrator owns the per-turn control loop: intent resolution,
// capability exposure, the streaming model call, tool dispatch, and the
// final citation-annotated outcome.
//
// Each turn is isolated. The conversation context is never mutated, all
// citation bookkeeping lives in a per-turn scope, and one context.Context
// cancels every remote call the turn makes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/koopa0/maestro/internal/capability"
	"github.com/koopa0/maestro/internal/genai"
	"github.com/koopa0/maestro/internal/intent"
	"github.com/koopa0/maestro/internal/prompt"
	"github.com/koopa0/maestro/internal/retrieval"
	"github.com/koopa0/maestro/internal/router"
	"github.com/koopa0/maestro/internal/turn"
)

const (
	// SearchToolName is the per-turn knowledge-search capability exposed
	// when the conversation has a data source attached.
	SearchToolName = "search_knowledge"

	// DefaultMaxIterations bounds the tool-invocation loop within one turn.
	DefaultMaxIterations = 5

	// FallbackResponseMessage guarantees a non-empty user-visible outcome
	// when the model terminates without text and without error.
	FallbackResponseMessage = "I was unable to generate a response. Please try rephrasing your request."

	// MaxIterationsMessage is the deterministic outcome of an exhausted
	// tool loop.
	MaxIterationsMessage = "I reached the maximum number of tool invocations for this request without completing it. Please try a more specific request."
)

// Finish reasons reported on the final chunk.
const (
	FinishNormal        = "stop"
	FinishMaxIterations = "max_iterations"
)

// Chunk is one unit of the streamed response. Intermediate chunks carry
// TextDelta; the single final chunk carries FinalText and FinishReason.
type Chunk struct {
	Role         string
	TextDelta    string
	FinalText    string
	FinishReason string
}

// StreamFunc receives chunks strictly in generation order. Returning an
// error aborts the turn.
type StreamFunc func(Chunk) error

// TurnResult is the terminal state of one turn.
type TurnResult struct {
	FinalText    string
	FinishReason string

	// Citations maps every [doc:N] marker emitted during the turn to its
	// source, in ordinal order.
	Citations []retrieval.Citation

	// Iterations is the number of model calls the turn used.
	Iterations int
}

// ChatBackend issues one streaming model call and returns tool requests
// unexecuted. *genai.Backend satisfies it.
type ChatBackend interface {
	Generate(ctx context.Context, req *genai.Request, cb genai.StreamCallback) (*genai.Response, error)
}

// IntentResolver decides capability exposure for a turn. *intent.Pipeline
// satisfies it.
type IntentResolver interface {
	Resolve(ctx context.Context, prompt string, conv *turn.ConversationContext) *intent.Result
}

// CapabilityResolver materializes the turn's capability set.
// *capability.Registry satisfies it.
type CapabilityResolver interface {
	ResolveAll(ctx context.Context, conv *turn.ConversationContext) []*capability.Entry
}

// Dispatcher executes remote capability invocations. *router.Router
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv capability.Invocation) (string, error)
}

// Searcher runs the retrieval flow. *retrieval.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, profile retrieval.Profile, filter *retrieval.Filter, scope *retrieval.Scope) (string, error)
}

// Config wires an Orchestrator.
type Config struct {
	Backend      ChatBackend
	Intent       IntentResolver
	Capabilities CapabilityResolver
	Router       Dispatcher

	// Engine is optional; without it the search capability is never
	// exposed even when a data source is attached.
	Engine Searcher

	// Profile supplies retrieval defaults (top-N, strictness scale, scope
	// behavior). The per-turn index name comes from the conversation.
	Profile retrieval.Profile

	// MaxIterations bounds the tool loop. <= 0 uses DefaultMaxIterations.
	MaxIterations int

	Logger *slog.Logger
}

// Orchestrator drives turns. Safe for concurrent use across sessions; all
// per-turn state is local to Run.
type Orchestrator struct {
	backend       ChatBackend
	intent        IntentResolver
	capabilities  CapabilityResolver
	router        Dispatcher
	engine        Searcher
	profile       retrieval.Profile
	maxIterations int
	logger        *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("chat backend is required")
	}
	if cfg.Intent == nil {
		return nil, fmt.Errorf("intent resolver is required")
	}
	if cfg.Capabilities == nil {
		return nil, fmt.Errorf("capability resolver is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		backend:       cfg.Backend,
		intent:        cfg.Intent,
		capabilities:  cfg.Capabilities,
		router:        cfg.Router,
		engine:        cfg.Engine,
		profile:       cfg.Profile,
		maxIterations: maxIterations,
		logger:        logger,
	}, nil
}

// Run executes one turn. stream may be nil for non-streaming callers; when
// set, it receives text deltas in generation order and exactly one final
// chunk. The returned TurnResult carries the citation references for UI
// rendering of the [doc:N] markers.
func (o *Orchestrator) Run(ctx context.Context, conv *turn.ConversationContext, userPrompt string, stream StreamFunc) (*TurnResult, error) {
	scope := retrieval.NewScope(conv.SessionID.String())

	res := o.intent.Resolve(ctx, userPrompt, conv)
	exposed := o.exposedCapabilities(ctx, conv, res, scope)

	system, err := o.composeSystem(conv, res)
	if err != nil {
		return nil, fmt.Errorf("composing system message: %w", err)
	}

	messages := conv.CloneHistory()
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(userPrompt)))

	var cb genai.StreamCallback
	if stream != nil {
		cb = func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return stream(Chunk{Role: "model", TextDelta: text})
		}
	}

	finalText := ""
	finishReason := FinishMaxIterations
	iterations := 0

	for iterations < o.maxIterations {
		iterations++

		resp, err := o.backend.Generate(ctx, &genai.Request{
			System:       system,
			Messages:     messages,
			Capabilities: exposed,
		}, cb)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		if len(resp.ToolRequests) == 0 {
			finalText = resp.Text
			finishReason = FinishNormal
			if resp.FinishReason != "" {
				finishReason = resp.FinishReason
			}
			break
		}

		o.logger.Debug("model requested capabilities",
			"count", len(resp.ToolRequests), "iteration", iterations)

		requestParts := make([]*ai.Part, 0, len(resp.ToolRequests))
		responseParts := make([]*ai.Part, 0, len(resp.ToolRequests))
		for _, tr := range resp.ToolRequests {
			requestParts = append(requestParts, ai.NewToolRequestPart(tr))

			output, err := o.invoke(ctx, exposed, tr)
			if err != nil {
				return nil, err
			}
			responseParts = append(responseParts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   tr.Name,
				Ref:    tr.Ref,
				Output: output,
			}))
		}
		messages = append(messages, ai.NewMessage(ai.RoleModel, nil, requestParts...))
		messages = append(messages, ai.NewMessage(ai.RoleTool, nil, responseParts...))
	}

	if finishReason == FinishMaxIterations {
		o.logger.Warn("tool loop exhausted", "max_iterations", o.maxIterations)
		finalText = MaxIterationsMessage
	}
	if strings.TrimSpace(finalText) == "" {
		finalText = FallbackResponseMessage
	}

	if stream != nil {
		final := Chunk{Role: "model", FinalText: finalText, FinishReason: finishReason}
		if err := stream(final); err != nil {
			return nil, fmt.Errorf("delivering final chunk: %w", err)
		}
	}

	return &TurnResult{
		FinalText:    finalText,
		FinishReason: finishReason,
		Citations:    scope.Citations(),
		Iterations:   iterations,
	}, nil
}

// invoke executes one model-requested capability. Failures become
// structured payload text fed back to the model; only context cancellation
// aborts the turn.
func (o *Orchestrator) invoke(ctx context.Context, exposed []*capability.Entry, tr *ai.ToolRequest) (string, error) {
	args := normalizeInput(tr.Input)

	entry, ok := capability.FindByName(exposed, tr.Name)
	if !ok {
		o.logger.Warn("model requested unexposed capability", "capability", tr.Name)
		return router.ErrorPayload(router.CodeUnknownCapability, "", tr.Name,
			fmt.Sprintf("capability %q is not available in this turn", tr.Name)), nil
	}

	if entry.Local() {
		h, err := entry.Bind()
		if err != nil {
			o.logger.Error("binding local capability failed", "capability", tr.Name, "error", err)
			return router.ErrorPayload(router.CodeInvocationError, "", tr.Name, err.Error()), nil
		}
		out, err := h(ctx, args)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			o.logger.Warn("local capability failed", "capability", tr.Name, "error", err)
			return router.ErrorPayload(router.CodeInvocationError, "", tr.Name, err.Error()), nil
		}
		return out, nil
	}

	return o.router.Dispatch(ctx, capability.Invocation{
		Kind:         entry.Kind,
		ConnectionID: entry.ConnectionID,
		Name:         entry.Name,
		URI:          entry.URI,
		Arguments:    args,
	})
}

// exposedCapabilities assembles the turn's capability set: local entries
// from the registry, remote entries the intent pipeline exposed, and the
// per-turn search capability when a data source is attached.
func (o *Orchestrator) exposedCapabilities(ctx context.Context, conv *turn.ConversationContext, res *intent.Result, scope *retrieval.Scope) []*capability.Entry {
	all := o.capabilities.ResolveAll(ctx, conv)

	exposed := make([]*capability.Entry, 0, len(all)+1)
	for _, e := range all {
		// Remote exposure is the intent pipeline's decision; local entries
		// were already filtered against the conversation's tool names.
		if e.Local() || res.HasTool(e.Name) {
			exposed = append(exposed, e)
		}
	}

	if o.engine != nil && conv.HasDataSource() && res.HasTool(SearchToolName) {
		exposed = append(exposed, o.searchEntry(conv, scope))
	}
	return exposed
}

// searchSchema describes the knowledge-search input.
var searchSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"query": {
			Type:        "string",
			Description: "The search query to run against the attached knowledge source.",
		},
	},
	Required: []string{"query"},
}

// searchEntry builds the per-turn knowledge-search capability. The handler
// closes over the turn's scope so every retrieval hit registers its
// citation there, and over the conversation for the index name.
func (o *Orchestrator) searchEntry(conv *turn.ConversationContext, scope *retrieval.Scope) *capability.Entry {
	profile := o.profile
	profile.IndexName = conv.DataSourceID
	profile.ScopeID = scope.ID()

	handler := func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("search requires a non-empty query")
		}
		return o.engine.Search(ctx, query, profile, nil, scope)
	}

	return capability.NewLocalEntry(SearchToolName,
		"Search the knowledge source attached to this conversation and return relevant passages with citation markers.",
		searchSchema, handler)
}

// composeSystem joins the conversation's system message with the context
// blocks the intent phases contributed.
func (o *Orchestrator) composeSystem(conv *turn.ConversationContext, res *intent.Result) (string, error) {
	return prompt.New(nil).
		AddText(conv.SystemMessage).
		AddBlock(res.AdditionalContext()).
		ComposeSync()
}

// normalizeInput coerces a tool request's input into the argument map the
// capability layer expects.
func normalizeInput(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}
