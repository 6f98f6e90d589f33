package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BatchOptions configures a BatchingEmbedder.
type BatchOptions struct {
	// BatchSize caps the number of texts per provider call.
	BatchSize int
	// Delay is the minimum spacing between consecutive provider calls.
	Delay time.Duration
	// BatchTimeout bounds each batch call.
	BatchTimeout time.Duration
	// Timeout bounds a single Embed call.
	Timeout time.Duration
	Logger  *zap.Logger
}

// BatchingEmbedder splits large inputs into provider-sized batches, spaces the calls with a
// token bucket and bounds every call with its own deadline.
type BatchingEmbedder struct {
	next    Embedder
	opts    BatchOptions
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBatchingEmbedder wraps next. Zero options fall back to 25 per batch, 100ms spacing,
// 60s per batch and 30s per single embed.
func NewBatchingEmbedder(next Embedder, opts BatchOptions) *BatchingEmbedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.Delay <= 0 {
		opts.Delay = 100 * time.Millisecond
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 60 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchingEmbedder{
		next:    next,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.Delay), 1),
		logger:  logger,
	}
}

// Embed embeds one text within the single-call timeout.
func (b *BatchingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to embed: %w", err)
	}
	v, err := b.next.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed: %w", err)
	}
	return v, nil
}

// EmbedBatch embeds texts in batches and returns the vectors in input order.
func (b *BatchingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.opts.BatchSize {
		end := start + b.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
		b.logger.Debug("embedded batch", zap.Int("from", start), zap.Int("to", end), zap.Int("total", len(texts)))
	}
	return out, nil
}

func (b *BatchingEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.BatchTimeout)
	defer cancel()
	vecs, err := b.next.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(batch))
	}
	return vecs, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (b *BatchingEmbedder) Dimensions() int {
	return b.next.Dimensions()
}

// Close closes the wrapped embedder.
func (b *BatchingEmbedder) Close() error {
	return b.next.Close()
}
