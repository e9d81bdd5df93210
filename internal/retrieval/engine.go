// Package retrieval implements semantic search over attached knowledge
// sources with citation bookkeeping.
//
// The engine embeds a query, searches a vector index, filters by a
// configurable strictness threshold, deduplicates sources through the turn's
// Scope, and emits a citation-annotated context block for prompt injection.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Sentinel messages returned through the pipeline as plain text. These are
// expected user-configuration or no-data states, not errors.
const (
	// NotConfiguredMessage reports a missing embedding backend for the
	// active profile.
	NotConfiguredMessage = "The knowledge source is not fully configured: no embedding backend is available for this index. Answer without document context and mention that the knowledge source is unavailable."

	// NoResultInScope instructs the model when the source is restricted to
	// its own content and nothing relevant was found.
	NoResultInScope = "No relevant content was found in the attached knowledge source. Tell the user the answer is not available in the provided documents."

	// NoResultOpen permits falling back to general knowledge.
	NoResultOpen = "No relevant content was found in the attached knowledge source. Answer from general knowledge instead."
)

// DefaultTopN is the search depth when the profile does not override it.
const DefaultTopN = 5

// DefaultStrictnessMax is the top of the integer strictness scale. The scale
// itself is a product decision, so it stays configurable per profile.
const DefaultStrictnessMax = 5

// Result is one transient hit from the search backend.
type Result struct {
	Content    string
	Title      string
	SourceID   string
	SourceType string
	Score      float32 // relevance in [0,1]
}

// Profile describes the active index configuration for a search.
type Profile struct {
	IndexName     string
	Provider      string // embedding/filter provider key
	ScopeID       string // data-source scope passed to the index
	TopN          int    // zero = DefaultTopN
	Strictness    int    // integer level, 0 disables threshold filtering
	StrictnessMax int    // zero = DefaultStrictnessMax
	InScopeOnly   bool   // restrict answers to source content
}

// Threshold maps the integer strictness level onto [0,1].
func (p Profile) Threshold() float32 {
	if p.Strictness <= 0 {
		return 0
	}
	max := p.StrictnessMax
	if max <= 0 {
		max = DefaultStrictnessMax
	}
	if p.Strictness >= max {
		return 1
	}
	return float32(p.Strictness) / float32(max)
}

// Filter is a provider-agnostic equality filter over source metadata.
type Filter struct {
	Field string
	Value string
}

// Embedder generates one embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index executes a vector search. nativeFilter is backend syntax produced by
// a FilterTranslator, empty when no filter applies.
type Index interface {
	Search(ctx context.Context, profile Profile, vector []float32, topN int, nativeFilter string) ([]Result, error)
}

// FilterTranslator converts the generic filter to the backend's syntax.
type FilterTranslator interface {
	Translate(filter Filter) (string, error)
}

// Engine performs retrieval with citation bookkeeping. Safe for concurrent
// use; all per-turn state lives in the Scope passed to Search.
type Engine struct {
	embedders   map[string]Embedder
	translators map[string]FilterTranslator
	index       Index
	logger      *slog.Logger
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	// Embedders maps provider name to embedding backend.
	Embedders map[string]Embedder

	// Translators maps provider name to filter translator. Optional.
	Translators map[string]FilterTranslator

	Index  Index
	Logger *slog.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		embedders:   cfg.Embedders,
		translators: cfg.Translators,
		index:       cfg.Index,
		logger:      cfg.Logger,
	}, nil
}

// Search runs the full retrieval flow and returns the formatted context
// block, or a sentinel message when the source is unconfigured or nothing
// relevant survives the strictness threshold. Backend failures (embedding,
// index) are returned as errors; configuration gaps are not.
func (e *Engine) Search(ctx context.Context, query string, profile Profile, filter *Filter, scope *Scope) (string, error) {
	embedder, ok := e.embedders[profile.Provider]
	if !ok || embedder == nil {
		e.logger.Info("no embedding backend for profile",
			"provider", profile.Provider, "index", profile.IndexName)
		return NotConfiguredMessage, nil
	}

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embedding query: %w", err)
	}

	nativeFilter := ""
	if filter != nil {
		if translator, ok := e.translators[profile.Provider]; ok && translator != nil {
			nativeFilter, err = translator.Translate(*filter)
			if err != nil {
				e.logger.Warn("filter translation failed, dropping filter",
					"provider", profile.Provider, "error", err)
				nativeFilter = ""
			}
		} else {
			e.logger.Info("no filter translator for provider, dropping filter",
				"provider", profile.Provider)
		}
	}

	topN := profile.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	results, err := e.index.Search(ctx, profile, vector, topN, nativeFilter)
	if err != nil {
		return "", fmt.Errorf("vector search on %q: %w", profile.IndexName, err)
	}

	threshold := profile.Threshold()
	kept := results[:0:0]
	for _, r := range results {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}

	if len(kept) == 0 {
		if profile.InScopeOnly {
			return NoResultInScope, nil
		}
		return NoResultOpen, nil
	}

	return formatBlock(kept, scope), nil
}

// formatBlock renders the annotated context block. Every surviving result is
// appended with its ordinal marker; the trailing References section maps each
// distinct ordinal to its source once.
func formatBlock(results []Result, scope *Scope) string {
	var b strings.Builder
	seen := make(map[int]struct{}, len(results))
	var order []int

	for i, r := range results {
		ordinal := scope.Cite(r.SourceID, r.SourceType, r.Title, r.Content)
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Content)
		b.WriteString(" [doc:")
		b.WriteString(strconv.Itoa(ordinal))
		b.WriteString("]")
		if _, dup := seen[ordinal]; !dup {
			seen[ordinal] = struct{}{}
			order = append(order, ordinal)
		}
	}

	b.WriteString("\n\nReferences:\n")
	refs := make(map[int]Citation, len(order))
	for _, c := range scope.Citations() {
		refs[c.Ordinal] = c
	}
	for i, ordinal := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		c := refs[ordinal]
		title := c.Title
		if title == "" {
			title = c.SourceID
		}
		b.WriteString(strconv.Itoa(ordinal))
		b.WriteString(". ")
		b.WriteString(title)
		if c.SourceType != "" {
			b.WriteString(" (")
			b.WriteString(c.SourceType)
			b.WriteString(")")
		}
	}
	return b.String()
}
