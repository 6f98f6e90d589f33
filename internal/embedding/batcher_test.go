package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBatchingEmbedder_SplitsAndPreservesOrder(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	b := NewBatchingEmbedder(inner, BatchOptions{BatchSize: 25, Delay: time.Millisecond})

	texts := make([]string, 60)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}
	vecs, err := b.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 60 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if len(inner.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(inner.batches))
	}
	for i, want := range []int{25, 25, 10} {
		if len(inner.batches[i]) != want {
			t.Errorf("batch %d has %d texts, want %d", i, len(inner.batches[i]), want)
		}
	}
	want, _ := NewMockEmbedder(8).Embed(context.Background(), "chunk 59")
	for i := range want {
		if vecs[59][i] != want[i] {
			t.Fatal("vector order does not match input order")
		}
	}
}

func TestBatchingEmbedder_SpacesCalls(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	b := NewBatchingEmbedder(inner, BatchOptions{BatchSize: 1, Delay: 20 * time.Millisecond})
	start := time.Now()
	if _, err := b.EmbedBatch(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("three batches finished in %v, expected spacing of 20ms", elapsed)
	}
}

type slowEmbedder struct{ MockEmbedder }

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
		return s.MockEmbedder.Embed(ctx, text)
	}
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if _, err := s.Embed(ctx, ""); err != nil {
		return nil, err
	}
	return s.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestBatchingEmbedder_Timeouts(t *testing.T) {
	b := NewBatchingEmbedder(&slowEmbedder{MockEmbedder: *NewMockEmbedder(4)}, BatchOptions{
		Timeout:      20 * time.Millisecond,
		BatchTimeout: 30 * time.Millisecond,
	})
	start := time.Now()
	if _, err := b.Embed(context.Background(), "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if _, err := b.EmbedBatch(context.Background(), []string{"x", "y"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected batch deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeouts were not enforced, took %v", elapsed)
	}
}

func TestMockEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "PCB 缺陷 视觉检测")
	near, _ := e.Embed(ctx, "基于视觉检测的PCB缺陷识别")
	far, _ := e.Embed(ctx, "仓储物流机器人调度")
	if dot(q, near) <= dot(q, far) {
		t.Errorf("expected related text to be closer: near=%f far=%f", dot(q, near), dot(q, far))
	}
	again, _ := e.Embed(ctx, "PCB 缺陷 视觉检测")
	if dot(q, again) < 0.999 {
		t.Error("embedding should be deterministic")
	}
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
