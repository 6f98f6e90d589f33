package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/embedding"
	"github.com/hyperjump/casepilot/internal/indexer"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/retrieval"
	"github.com/hyperjump/casepilot/internal/vector"
)

func contexts(n int, source string, offset int) []*models.Context {
	out := make([]*models.Context, n)
	for i := 0; i < n; i++ {
		out[i] = &models.Context{
			ChunkID: fmt.Sprintf("chunk-%d", (i+offset)%(n+offset)),
			CaseID:  fmt.Sprintf("case-%d", i%10),
			Score:   float64(n-i) / float64(n),
			Source:  source,
		}
	}
	return out
}

func BenchmarkFusion(b *testing.B) {
	semantic := contexts(100, retrieval.SourceSemantic, 0)
	keyword := contexts(100, retrieval.SourceKeyword, 50)
	for _, strategy := range []string{"max", "rrf"} {
		f, err := retrieval.NewFusion(config.FusionConfig{Strategy: strategy})
		if err != nil {
			b.Fatal(err)
		}
		b.Run(strategy, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = f.Fuse(semantic, keyword)
			}
		})
	}
}

func BenchmarkMemoryStoreQuery(b *testing.B) {
	store, _ := vector.NewMemoryStore(384)
	ctx := context.Background()
	records := make([]vector.Record, 1000)
	for i := range records {
		emb := make([]float32, 384)
		emb[0] = float32(i) / 1000
		emb[i%384] += 1
		records[i] = vector.Record{
			ID:        fmt.Sprintf("chunk-%d", i),
			Embedding: emb,
			Metadata:  map[string]interface{}{"case_id": fmt.Sprintf("case-%d", i%50)},
		}
	}
	_ = store.Add(ctx, records)
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Query(ctx, query, 10, nil)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "仓储AGV激光SLAM导航项目，定位精度±10mm")
	}
}

func BenchmarkChunker(b *testing.B) {
	var paragraphs []string
	for i := 0; i < 40; i++ {
		paragraphs = append(paragraphs, strings.Repeat("视觉检测系统在产线上识别焊点缺陷。", 8))
	}
	text := strings.Join(paragraphs, "\n\n")
	c := indexer.NewChunker(800, 100, 200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Chunk(text)
	}
}
