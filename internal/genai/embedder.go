package genai

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// Embedder adapts a genkit embedder to the single-text interface the
// retrieval engine consumes. A nil inner embedder is a valid state: the
// engine treats it as "not configured" and degrades gracefully.
type Embedder struct {
	inner ai.Embedder
}

// NewEmbedder wraps a genkit embedder. inner may be nil.
func NewEmbedder(inner ai.Embedder) *Embedder {
	return &Embedder{inner: inner}
}

// Configured reports whether an embedding backend is present.
func (e *Embedder) Configured() bool {
	return e != nil && e.inner != nil
}

// Embed produces one embedding vector for the query text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.Configured() {
		return nil, fmt.Errorf("no embedding backend configured")
	}
	resp, err := e.inner.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("generating query embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned for query")
	}
	return resp.Embeddings[0].Embedding, nil
}
