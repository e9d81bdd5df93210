package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/genkit"
)

// Renderer resolves named prompt templates from genkit's prompt directory.
// Implements the prompt composer's renderer interface.
type Renderer struct {
	g *genkit.Genkit
}

// NewRenderer creates a renderer over a genkit instance initialized with a
// prompt directory.
func NewRenderer(g *genkit.Genkit) *Renderer {
	return &Renderer{g: g}
}

// Render resolves one template to text. Unknown template IDs are an error;
// the composer surfaces them rather than silently emitting nothing.
func (r *Renderer) Render(ctx context.Context, templateID string, args map[string]any) (string, error) {
	p := genkit.LookupPrompt(r.g, templateID)
	if p == nil {
		return "", fmt.Errorf("prompt template %q not found", templateID)
	}

	req, err := p.Render(ctx, args)
	if err != nil {
		return "", fmt.Errorf("rendering template %q: %w", templateID, err)
	}

	var b strings.Builder
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.IsText() {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String(), nil
}
