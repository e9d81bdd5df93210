// Package pgindex implements vector search over PostgreSQL with the
// pgvector extension. One table holds every indexed chunk; rows are scoped
// by index name and filtered by a JSONB metadata containment expression.
package pgindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/koopa0/maestro/internal/retrieval"
)

// VectorDimension is the embedding width the retrieval_chunks schema
// declares. Embedders must produce vectors of exactly this size.
const VectorDimension = 768

// searchSQL orders by cosine distance; score is the 1-distance similarity
// the strictness threshold is applied against. The metadata filter is a
// parameterized JSONB containment, so an empty filter object matches all.
const searchSQL = `
SELECT source_id, source_type, title, content,
       1 - (embedding <=> $1) AS score
FROM retrieval_chunks
WHERE index_name = $2
  AND metadata @> $3::jsonb
ORDER BY embedding <=> $1
LIMIT $4`

const insertSQL = `
INSERT INTO retrieval_chunks (index_name, source_id, source_type, title, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (index_name, source_id) DO UPDATE
SET title = EXCLUDED.title,
    content = EXCLUDED.content,
    metadata = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding`

// Index is a retrieval.Index over a pgx connection pool. Safe for
// concurrent use.
type Index struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates an index over an existing pool. The pool's lifecycle belongs
// to the caller.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{pool: pool, logger: logger}
}

// Search runs a cosine-similarity query scoped to the profile's index name.
// nativeFilter, when non-empty, must be a JSON object produced by
// FilterTranslator; it is bound as a parameter, never interpolated.
func (ix *Index) Search(ctx context.Context, profile retrieval.Profile, vector []float32, topN int, nativeFilter string) ([]retrieval.Result, error) {
	filter := nativeFilter
	if filter == "" {
		filter = "{}"
	}

	rows, err := ix.pool.Query(ctx, searchSQL,
		pgvector.NewVector(vector), profile.IndexName, filter, topN)
	if err != nil {
		return nil, fmt.Errorf("vector search on index %q: %w", profile.IndexName, err)
	}
	defer rows.Close()

	var results []retrieval.Result
	for rows.Next() {
		var r retrieval.Result
		var score float64
		if err := rows.Scan(&r.SourceID, &r.SourceType, &r.Title, &r.Content, &score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

// Chunk is one indexable unit of a source document.
type Chunk struct {
	SourceID   string
	SourceType string
	Title      string
	Content    string
	Metadata   map[string]string
	Embedding  []float32
}

// Upsert writes one chunk into an index, replacing a previous version of
// the same source.
func (ix *Index) Upsert(ctx context.Context, indexName string, c Chunk) error {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}
	_, err = ix.pool.Exec(ctx, insertSQL,
		indexName, c.SourceID, c.SourceType, c.Title, c.Content, metaJSON,
		pgvector.NewVector(c.Embedding))
	if err != nil {
		return fmt.Errorf("upserting chunk %q into index %q: %w", c.SourceID, indexName, err)
	}
	return nil
}
