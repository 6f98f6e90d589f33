package embedding

import (
	"context"

	"github.com/hyperjump/casepilot/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline use. It hashes the text's
// tokens (CJK characters, CJK bigrams and Latin words) into a fixed number of buckets, so
// texts sharing vocabulary end up close together.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the unit-length feature-hashed embedding of text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	tokens := Tokens(text)
	for i, tok := range tokens {
		e.add(emb, tok, 1)
		if i > 0 && isCJKToken(tok) && isCJKToken(tokens[i-1]) {
			e.add(emb, tokens[i-1]+tok, 0.5)
		}
	}
	if len(tokens) == 0 {
		emb[0] = 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *MockEmbedder) add(emb []float32, token string, weight float32) {
	h := HashString(token)
	sign := float32(1)
	if h&(1<<31) != 0 {
		sign = -1
	}
	emb[int(h%uint32(e.dimensions))] += sign * weight
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
