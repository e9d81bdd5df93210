// Package intent decides, per turn, whether external capabilities are needed
// and which subset is relevant, so the model context is not flooded with
// irrelevant capability descriptions.
//
// Resolution runs in two phases. Phase 1 strategies are cheap local
// heuristics executed unconditionally in registration order. Phase 2 runs
// only when a Phase 1 strategy demands it and is allowed to spend one short,
// history-free classifier call.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/koopa0/maestro/internal/turn"
)

// Phase identifies when a strategy runs.
type Phase int

const (
	// PhaseHeuristic strategies run unconditionally on the raw prompt.
	PhaseHeuristic Phase = iota + 1

	// PhaseMatcher strategies run only when a heuristic requested them.
	PhaseMatcher
)

// Context is the input handed to every strategy.
type Context struct {
	Prompt       string
	Conversation *turn.ConversationContext
	Phase        Phase
}

// Result accumulates strategy output. Strategies only add to it; the
// pipeline driver merges, nothing removes another strategy's contribution.
type Result struct {
	additionalContext   []string
	toolNames           map[string]struct{}
	RequiresSecondPhase bool
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{toolNames: make(map[string]struct{})}
}

// AppendContext adds a retrieval or capability-description text block.
func (r *Result) AppendContext(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	r.additionalContext = append(r.additionalContext, text)
}

// ExposeTool marks a capability name for exposure to the model.
func (r *Result) ExposeTool(name string) {
	if name == "" {
		return
	}
	r.toolNames[name] = struct{}{}
}

// AdditionalContext returns the merged context blocks joined in
// contribution order.
func (r *Result) AdditionalContext() string {
	return strings.Join(r.additionalContext, "\n\n")
}

// ToolNames returns the set of capability names to expose.
func (r *Result) ToolNames() map[string]struct{} {
	return r.toolNames
}

// HasTool reports whether a name was marked for exposure.
func (r *Result) HasTool(name string) bool {
	_, ok := r.toolNames[name]
	return ok
}

// Strategy is one pipeline stage. Process must only mutate res through its
// accumulate methods and must not retain ic past the call.
type Strategy interface {
	Name() string
	Phase() Phase
	Process(ctx context.Context, ic *Context, res *Result) error
}

// Pipeline drives registered strategies over a turn's prompt.
type Pipeline struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. Strategy order is registration order.
func NewPipeline(logger *slog.Logger, strategies ...Strategy) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{strategies: strategies, logger: logger}
}

// Resolve runs Phase 1 strategies in order, then Phase 2 strategies when any
// Phase 1 strategy set RequiresSecondPhase. Strategy errors are logged and
// skipped: a broken heuristic must never fail the turn.
func (p *Pipeline) Resolve(ctx context.Context, prompt string, conv *turn.ConversationContext) *Result {
	res := NewResult()

	ic := &Context{Prompt: prompt, Conversation: conv, Phase: PhaseHeuristic}
	for _, s := range p.strategies {
		if s.Phase() != PhaseHeuristic {
			continue
		}
		if err := s.Process(ctx, ic, res); err != nil {
			p.logger.Warn("intent strategy failed", "strategy", s.Name(), "error", err)
		}
	}

	if !res.RequiresSecondPhase {
		return res
	}

	ic = &Context{Prompt: prompt, Conversation: conv, Phase: PhaseMatcher}
	for _, s := range p.strategies {
		if s.Phase() != PhaseMatcher {
			continue
		}
		if err := s.Process(ctx, ic, res); err != nil {
			p.logger.Warn("intent matcher failed", "strategy", s.Name(), "error", err)
		}
	}
	return res
}
