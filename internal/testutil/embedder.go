package testutil

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEmbedder produces deterministic embeddings from token hashes. Texts
// sharing words land near each other, which is enough signal for search
// tests without a live embedding backend. Implements retrieval.Embedder.
type HashEmbedder struct {
	// Dimension of produced vectors. Zero means 768, matching the
	// retrieval_chunks schema.
	Dimension int
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := e.Dimension
	if dim <= 0 {
		dim = 768
	}
	vec := make([]float32, dim)

	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == ' ' || text[i] == '\n' {
			if i > start {
				h := fnv.New32a()
				h.Write([]byte(text[start:i]))
				vec[int(h.Sum32())%dim]++
			}
			start = i + 1
		}
	}

	// L2-normalize so cosine similarity behaves like a real embedder's.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
