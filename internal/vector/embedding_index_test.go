package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/casepilot/internal/embedding"
	"github.com/hyperjump/casepilot/internal/models"
)

func newTestIndex(t *testing.T, opts ...IndexOption) *EmbeddingIndex {
	t.Helper()
	emb := embedding.NewMockEmbedder(256)
	store, err := NewMemoryStore(emb.Dimensions())
	if err != nil {
		t.Fatal(err)
	}
	return NewEmbeddingIndex(emb, store, opts...)
}

func chunksOf(texts ...string) []*models.Chunk {
	out := make([]*models.Chunk, len(texts))
	for i, text := range texts {
		out[i] = &models.Chunk{ID: "chunk-" + string(rune('a'+i)), Index: i, Content: text, TokenCount: len(text)}
	}
	return out
}

func TestEmbeddingIndex_AddQueryRemove(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	defer idx.Close()

	ids, err := idx.Add(ctx, chunksOf("smart warehouse robots picking", "inventory forecasting models", "warehouse automation conveyor"), "case-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "chunk-a" || ids[2] != "chunk-c" {
		t.Errorf("ids = %v", ids)
	}
	triage := []*models.Chunk{{ID: "chunk-triage", Index: 0, Content: "hospital triage chatbot", TokenCount: 3}}
	if _, err := idx.Add(ctx, triage, "case-2"); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.Size(ctx); n != 4 {
		t.Errorf("Size=%d, want 4", n)
	}

	results, err := idx.Query(ctx, "warehouse robots", QueryOptions{TopK: 4, MinScore: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].ChunkID != "chunk-a" || results[0].CaseID != "case-1" {
		t.Errorf("best result = %+v", results[0])
	}
	for i, r := range results {
		if r.Score < 0.1 || r.Score > 1 {
			t.Errorf("score %v outside [minScore, 1]", r.Score)
		}
		if i > 0 && r.Score > results[i-1].Score {
			t.Error("results not sorted by score")
		}
		if r.Content == "" {
			t.Error("content not returned")
		}
	}

	scoped, err := idx.Query(ctx, "warehouse robots", QueryOptions{TopK: 4, CaseID: "case-2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].CaseID != "case-2" || scoped[0].ChunkID != "chunk-triage" {
		t.Errorf("case filter not applied: %+v", scoped)
	}

	removed, err := idx.Remove(ctx, "case-1")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("removed=%d, want 3", removed)
	}
	if n, _ := idx.Size(ctx); n != 1 {
		t.Errorf("Size after remove=%d", n)
	}
	if removed, _ := idx.Remove(ctx, "case-1"); removed != 0 {
		t.Errorf("second remove=%d", removed)
	}
}

func TestEmbeddingIndex_MinScoreFilters(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	if _, err := idx.Add(ctx, chunksOf("alpha beta", "gamma delta"), "c"); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Query(ctx, "alpha beta", QueryOptions{TopK: 2, MinScore: 1.01})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("scores cannot exceed 1, got %d results", len(results))
	}
	if res, _ := idx.Query(ctx, "alpha", QueryOptions{}); res != nil {
		t.Error("zero TopK should return nothing")
	}
}

func TestEmbeddingIndex_PersistRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.bin")
	idx := newTestIndex(t, WithPersistPath(path), WithNormalizer(Cosine{}))
	if _, err := idx.Add(ctx, chunksOf("persisted chunk"), "case-9"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Persist(); err != nil {
		t.Fatal(err)
	}

	restored := newTestIndex(t, WithPersistPath(path), WithNormalizer(Cosine{}))
	if err := restored.Restore(); err != nil {
		t.Fatal(err)
	}
	results, err := restored.Query(ctx, "persisted chunk", QueryOptions{TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].CaseID != "case-9" || results[0].ChunkIndex != 0 {
		t.Fatalf("restored results = %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("identical text should score ~1 with cosine, got %v", results[0].Score)
	}
}
