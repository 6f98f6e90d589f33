package retrieval

import (
	"testing"

	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxOf(caseID, chunkID string, score float64, source string) *models.Context {
	return &models.Context{CaseID: caseID, ChunkID: chunkID, Score: score, Source: source}
}

func chunkIDs(cs []*models.Context) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ChunkID
	}
	return out
}

func TestMaxScoreFusion(t *testing.T) {
	semantic := []*models.Context{ctxOf("a", "1", 0.7, SourceSemantic), ctxOf("b", "2", 0.5, SourceSemantic)}
	keyword := []*models.Context{ctxOf("b", "2", 0.9, SourceKeyword), ctxOf("c", "3", 0.5, SourceKeyword)}

	out := MaxScoreFusion{KeywordDiscount: 0.8}.Fuse(semantic, keyword)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"2", "1", "3"}, chunkIDs(out))
	assert.InDelta(t, 0.72, out[0].Score, 1e-9)
	assert.Equal(t, SourceKeyword, out[0].Source)
	assert.InDelta(t, 0.4, out[2].Score, 1e-9)

	assert.Equal(t, 0.5, semantic[1].Score, "inputs are not modified")
	assert.Equal(t, 0.9, keyword[0].Score)
}

func TestMaxScoreFusion_SameChunkIDDifferentCase(t *testing.T) {
	out := MaxScoreFusion{KeywordDiscount: 1}.Fuse(
		[]*models.Context{ctxOf("a", "1", 0.5, SourceSemantic)},
		[]*models.Context{ctxOf("b", "1", 0.4, SourceKeyword)},
	)
	assert.Len(t, out, 2, "contexts are keyed by case and chunk")
}

func TestWeightedRRF(t *testing.T) {
	semantic := []*models.Context{ctxOf("a", "1", 0.9, SourceSemantic), ctxOf("b", "2", 0.8, SourceSemantic)}
	keyword := []*models.Context{ctxOf("b", "2", 0.9, SourceKeyword), ctxOf("c", "3", 0.7, SourceKeyword)}

	f := WeightedRRF{K: 60, SemanticWeight: 1, KeywordWeight: 0.8}
	out := f.Fuse(semantic, keyword)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"2", "1", "3"}, chunkIDs(out), "a chunk found by both probes ranks first")

	best := 1.8 / 61
	assert.InDelta(t, (1.0/62+0.8/61)/best, out[0].Score, 1e-9)
	assert.InDelta(t, (1.0/61)/best, out[1].Score, 1e-9)
	for _, c := range out {
		assert.True(t, c.Score > 0 && c.Score <= 1)
	}

	top := f.Fuse([]*models.Context{ctxOf("a", "1", 0.9, "")}, []*models.Context{ctxOf("a", "1", 0.9, "")})
	assert.InDelta(t, 1.0, top[0].Score, 1e-9)
}

func TestNewFusion(t *testing.T) {
	f, err := NewFusion(config.FusionConfig{KeywordDiscount: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "max", f.Name())

	f, err = NewFusion(config.FusionConfig{Strategy: "rrf", RRFK: 10, SemanticWeight: 1, KeywordWeight: 1})
	require.NoError(t, err)
	assert.Equal(t, WeightedRRF{K: 10, SemanticWeight: 1, KeywordWeight: 1}, f)

	_, err = NewFusion(config.FusionConfig{Strategy: "linear"})
	assert.Error(t, err)
}

func TestCapPerCase(t *testing.T) {
	in := []*models.Context{
		ctxOf("a", "1", 0.9, ""), ctxOf("a", "2", 0.8, ""), ctxOf("a", "3", 0.7, ""), ctxOf("b", "4", 0.6, ""),
	}
	assert.Equal(t, []string{"1", "2", "4"}, chunkIDs(capPerCase(in, 2)))
	assert.Len(t, in, 4)
	assert.Len(t, capPerCase(in, 0), 4)
}
