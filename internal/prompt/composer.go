// Package prompt assembles the final system/user prompt from heterogeneous
// segments: literal strings, named template references resolved through an
// injected renderer, and pre-rendered blocks.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTemplateResolutionRequired is returned by ComposeSync when the composer
// still holds an unresolved template segment.
var ErrTemplateResolutionRequired = errors.New("template resolution required")

// DefaultSeparator joins non-empty segments unless overridden.
const DefaultSeparator = "\n\n"

// Renderer resolves a named template into text. The collaborator is injected;
// the composer never caches renderer output across Compose calls.
type Renderer interface {
	Render(ctx context.Context, templateID string, args map[string]any) (string, error)
}

type segmentKind int

const (
	segmentText segmentKind = iota
	segmentTemplate
	segmentBlock
)

type segment struct {
	kind       segmentKind
	text       string
	templateID string
	args       map[string]any
}

// Composer builds a prompt from an ordered segment list. Each Compose call is
// independent; the composer may be reused as long as segment arguments are
// not shared mutable state.
type Composer struct {
	renderer  Renderer
	separator string
	segments  []segment
}

// Option configures a Composer.
type Option func(*Composer)

// WithSeparator overrides the segment separator.
func WithSeparator(sep string) Option {
	return func(c *Composer) { c.separator = sep }
}

// New creates a Composer. The renderer may be nil when no template segments
// will be added; adding one anyway makes Compose fail.
func New(renderer Renderer, opts ...Option) *Composer {
	c := &Composer{renderer: renderer, separator: DefaultSeparator}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddText appends a literal segment.
func (c *Composer) AddText(text string) *Composer {
	c.segments = append(c.segments, segment{kind: segmentText, text: text})
	return c
}

// AddTemplate appends a named template reference resolved at Compose time.
func (c *Composer) AddTemplate(templateID string, args map[string]any) *Composer {
	c.segments = append(c.segments, segment{kind: segmentTemplate, templateID: templateID, args: args})
	return c
}

// AddBlock appends an already rendered block.
func (c *Composer) AddBlock(text string) *Composer {
	c.segments = append(c.segments, segment{kind: segmentBlock, text: text})
	return c
}

// Len returns the number of segments added so far.
func (c *Composer) Len() int { return len(c.segments) }

// Compose resolves every template reference exactly once, drops segments that
// are empty or whitespace-only, and joins the rest with the separator.
// Zero surviving segments yield the empty string; a single surviving segment
// is returned verbatim with no separator or copy.
func (c *Composer) Compose(ctx context.Context) (string, error) {
	resolved := make([]string, 0, len(c.segments))
	total := 0
	for _, seg := range c.segments {
		text := seg.text
		if seg.kind == segmentTemplate {
			if c.renderer == nil {
				return "", fmt.Errorf("composing segment %q: no template renderer configured", seg.templateID)
			}
			out, err := c.renderer.Render(ctx, seg.templateID, seg.args)
			if err != nil {
				return "", fmt.Errorf("rendering template %q: %w", seg.templateID, err)
			}
			text = out
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		resolved = append(resolved, text)
		total += len(text)
	}

	switch len(resolved) {
	case 0:
		return "", nil
	case 1:
		return resolved[0], nil
	}

	var b strings.Builder
	b.Grow(total + len(c.separator)*(len(resolved)-1))
	for i, s := range resolved {
		if i > 0 {
			b.WriteString(c.separator)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// ComposeSync composes without resolving templates. It fails with
// ErrTemplateResolutionRequired if any template segment is present.
func (c *Composer) ComposeSync() (string, error) {
	for _, seg := range c.segments {
		if seg.kind == segmentTemplate {
			return "", fmt.Errorf("segment %q: %w", seg.templateID, ErrTemplateResolutionRequired)
		}
	}
	return c.Compose(context.Background())
}
