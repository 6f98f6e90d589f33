package embedding

import (
	"context"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	// a becomes most recent, so c evicts b
	c.Get("a")
	c.Set("c", []float32{6})
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestEmbeddingCache_ZeroCapacity(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Set("a", []float32{1})
	if _, ok := c.Get("a"); ok {
		t.Error("zero capacity cache should not store")
	}
}

type countingEmbedder struct {
	*MockEmbedder
	batches [][]string
	singles int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.singles++
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, append([]string(nil), texts...))
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_OnlyMissesGoDownstream(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(16)}
	e := NewCachedEmbedder(inner, NewEmbeddingCache(10))
	ctx := context.Background()

	if _, err := e.Embed(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if len(inner.batches) != 1 || len(inner.batches[0]) != 2 {
		t.Errorf("expected one downstream batch of 2 misses, got %v", inner.batches)
	}
	want, _ := NewMockEmbedder(16).Embed(ctx, "c")
	for i := range want {
		if vecs[2][i] != want[i] {
			t.Fatal("batch order not preserved")
		}
	}
	if _, err := e.Embed(ctx, "b"); err != nil || inner.singles != 1 {
		t.Errorf("cached text should not be re-embedded (singles=%d)", inner.singles)
	}
}
