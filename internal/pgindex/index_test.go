package pgindex

import (
	"context"
	"strings"
	"testing"

	"github.com/koopa0/maestro/internal/retrieval"
	"github.com/koopa0/maestro/internal/testutil"
)

func TestTranslator(t *testing.T) {
	tr := Translator{}

	got, err := tr.Translate(retrieval.Filter{Field: "source_type", Value: "file"})
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"source_type":"file"}` {
		t.Errorf("Translate() = %q", got)
	}

	// Values pass through json.Marshal, so quoting cannot break the object.
	got, err = tr.Translate(retrieval.Filter{Field: "title", Value: `a"b}c`})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, `{"title":`) {
		t.Errorf("Translate() = %q", got)
	}

	if _, err := tr.Translate(retrieval.Filter{Value: "x"}); err == nil {
		t.Error("empty field accepted")
	}
}

func TestIndex_SearchAndUpsert(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	ix := New(tdb.Pool, testutil.DiscardLogger())
	emb := &testutil.HashEmbedder{Dimension: VectorDimension}

	seed := []struct {
		id, typ, title, content string
		meta                    map[string]string
	}{
		{"doc-1", "file", "Sales Q1", "quarterly sales revenue numbers", map[string]string{"source_type": "file"}},
		{"doc-2", "file", "Sales Q2", "sales revenue growth quarterly", map[string]string{"source_type": "file"}},
		{"doc-3", "conversation", "Chat", "completely unrelated cooking recipe", map[string]string{"source_type": "conversation"}},
	}
	for _, s := range seed {
		vec, err := emb.Embed(ctx, s.content)
		if err != nil {
			t.Fatal(err)
		}
		err = ix.Upsert(ctx, "main", Chunk{
			SourceID: s.id, SourceType: s.typ, Title: s.title,
			Content: s.content, Metadata: s.meta, Embedding: vec,
		})
		if err != nil {
			t.Fatalf("upserting %s: %v", s.id, err)
		}
	}

	query, err := emb.Embed(ctx, "quarterly sales revenue")
	if err != nil {
		t.Fatal(err)
	}
	profile := retrieval.Profile{IndexName: "main"}

	results, err := ix.Search(ctx, profile, query, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want all 3", len(results))
	}
	if results[0].SourceID != "doc-1" && results[0].SourceID != "doc-2" {
		t.Errorf("best match = %s, want a sales doc", results[0].SourceID)
	}
	if results[0].Score < results[len(results)-1].Score {
		t.Error("results not ordered by descending score")
	}

	// JSONB containment filter narrows to one source type.
	filtered, err := ix.Search(ctx, profile, query, 10, `{"source_type":"conversation"}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].SourceID != "doc-3" {
		t.Errorf("filtered results = %+v", filtered)
	}

	// Unknown index name sees nothing.
	other, err := ix.Search(ctx, retrieval.Profile{IndexName: "other"}, query, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("foreign index returned %d rows", len(other))
	}
}

func TestIndex_UpsertReplaces(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	ix := New(tdb.Pool, testutil.DiscardLogger())
	emb := &testutil.HashEmbedder{Dimension: VectorDimension}

	vec, _ := emb.Embed(ctx, "first version")
	if err := ix.Upsert(ctx, "main", Chunk{SourceID: "doc-1", Title: "v1", Content: "first version", Embedding: vec}); err != nil {
		t.Fatal(err)
	}
	vec2, _ := emb.Embed(ctx, "second version")
	if err := ix.Upsert(ctx, "main", Chunk{SourceID: "doc-1", Title: "v2", Content: "second version", Embedding: vec2}); err != nil {
		t.Fatal(err)
	}

	results, err := ix.Search(ctx, retrieval.Profile{IndexName: "main"}, vec2, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d rows after re-upsert, want 1", len(results))
	}
	if results[0].Title != "v2" {
		t.Errorf("title = %q, want replacement to win", results[0].Title)
	}
}
