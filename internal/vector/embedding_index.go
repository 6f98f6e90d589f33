package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/casepilot/internal/embedding"
	"github.com/hyperjump/casepilot/internal/models"
	"go.uber.org/zap"
)

// Metadata keys stored with every chunk vector.
const (
	MetaCaseID     = "case_id"
	MetaChunkID    = "chunk_id"
	MetaChunkIndex = "chunk_index"
	MetaTokenCount = "token_count"
)

// QueryOptions controls an EmbeddingIndex query.
type QueryOptions struct {
	TopK int
	// CaseID restricts the search to one case when set.
	CaseID   string
	MinScore float64
}

// EmbeddingIndex embeds chunk text and keeps the vectors in a Store.
type EmbeddingIndex struct {
	embedder   embedding.Embedder
	store      Store
	normalizer ScoreNormalizer
	path       string
	logger     *zap.Logger
}

// IndexOption configures an EmbeddingIndex.
type IndexOption func(*EmbeddingIndex)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) IndexOption {
	return func(i *EmbeddingIndex) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithPersistPath sets where Persist saves local stores.
func WithPersistPath(path string) IndexOption {
	return func(i *EmbeddingIndex) {
		i.path = path
	}
}

// WithNormalizer overrides the distance-to-score mapping (default 1/(1+d)).
func WithNormalizer(n ScoreNormalizer) IndexOption {
	return func(i *EmbeddingIndex) {
		if n != nil {
			i.normalizer = n
		}
	}
}

// NewEmbeddingIndex creates an index over store using embedder.
func NewEmbeddingIndex(embedder embedding.Embedder, store Store, opts ...IndexOption) *EmbeddingIndex {
	i := &EmbeddingIndex{
		embedder:   embedder,
		store:      store,
		normalizer: InverseDistance{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Add embeds the chunks of one case and stores them. The returned IDs are the chunk IDs
// in input order, one per chunk.
func (i *EmbeddingIndex) Add(ctx context.Context, chunks []*models.Chunk, caseID string) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for n, ch := range chunks {
		texts[n] = ch.Content
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	records := make([]Record, len(chunks))
	ids := make([]string, len(chunks))
	for n, ch := range chunks {
		ids[n] = ch.ID
		records[n] = Record{
			ID:        ch.ID,
			Embedding: vecs[n],
			Document:  ch.Content,
			Metadata: map[string]interface{}{
				MetaCaseID:     caseID,
				MetaChunkID:    ch.ID,
				MetaChunkIndex: ch.Index,
				MetaTokenCount: ch.TokenCount,
			},
		}
	}
	if err := i.store.Add(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to store vectors: %w", err)
	}
	i.logger.Debug("indexed chunks", zap.String("case_id", caseID), zap.Int("chunks", len(chunks)))
	return ids, nil
}

// Query embeds text and returns chunks scoring at least MinScore, best first.
func (i *EmbeddingIndex) Query(ctx context.Context, text string, opts QueryOptions) ([]*models.RetrievalResult, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}
	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	var where Filter
	if opts.CaseID != "" {
		where = Filter{MetaCaseID: opts.CaseID}
	}
	matches, err := i.store.Query(ctx, vec, opts.TopK, where)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	results := make([]*models.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		score := i.normalizer.Score(m.Distance)
		if score < opts.MinScore {
			continue
		}
		results = append(results, &models.RetrievalResult{
			ChunkID:    metaString(m.Metadata, MetaChunkID, m.ID),
			CaseID:     metaString(m.Metadata, MetaCaseID, ""),
			ChunkIndex: metaInt(m.Metadata, MetaChunkIndex),
			Content:    m.Document,
			Score:      score,
			Distance:   m.Distance,
			Metadata:   m.Metadata,
		})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	return results, nil
}

// Remove deletes every vector of a case and returns how many were removed.
func (i *EmbeddingIndex) Remove(ctx context.Context, caseID string) (int, error) {
	matches, err := i.store.Get(ctx, Filter{MetaCaseID: caseID})
	if err != nil {
		return 0, fmt.Errorf("failed to find vectors of case %s: %w", caseID, err)
	}
	if len(matches) == 0 {
		return 0, nil
	}
	ids := make([]string, len(matches))
	for n, m := range matches {
		ids[n] = m.ID
	}
	if err := i.store.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete vectors of case %s: %w", caseID, err)
	}
	return len(ids), nil
}

// Size returns the number of stored vectors.
func (i *EmbeddingIndex) Size(ctx context.Context) (int, error) {
	return i.store.Count(ctx)
}

// StoreType returns the backend name.
func (i *EmbeddingIndex) StoreType() string {
	return i.store.Type()
}

// Persist saves local stores to the configured path.
func (i *EmbeddingIndex) Persist() error {
	if i.path == "" {
		return nil
	}
	if err := i.store.Save(i.path); err != nil {
		return fmt.Errorf("failed to save vector store: %w", err)
	}
	return nil
}

// Restore loads a previously persisted store.
func (i *EmbeddingIndex) Restore() error {
	if i.path == "" {
		return nil
	}
	if err := i.store.Load(i.path); err != nil {
		return fmt.Errorf("failed to load vector store: %w", err)
	}
	return nil
}

// Close closes the store.
func (i *EmbeddingIndex) Close() error {
	return i.store.Close()
}

func metaString(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func metaInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}
