package retrieval

import (
	"fmt"
	"sort"

	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/models"
)

// FusionStrategy merges the semantic and keyword probes into one list, deduplicated by
// (case_id, chunk_id) and ordered best first. Inputs are ordered best first and are not modified.
type FusionStrategy interface {
	Fuse(semantic, keyword []*models.Context) []*models.Context
	Name() string
}

// MaxScoreFusion discounts keyword scores by a fixed factor and keeps the higher score
// when both probes return the same chunk.
type MaxScoreFusion struct {
	KeywordDiscount float64
}

func (MaxScoreFusion) Name() string { return "max" }

func (f MaxScoreFusion) Fuse(semantic, keyword []*models.Context) []*models.Context {
	byKey := make(map[string]*models.Context, len(semantic)+len(keyword))
	var order []string
	add := func(c *models.Context, score float64) {
		key := c.Key()
		if prev, ok := byKey[key]; ok {
			if score > prev.Score {
				prev.Score = score
				prev.Source = c.Source
			}
			return
		}
		cp := *c
		cp.Score = score
		byKey[key] = &cp
		order = append(order, key)
	}
	for _, c := range semantic {
		add(c, c.Score)
	}
	for _, c := range keyword {
		add(c, c.Score*f.KeywordDiscount)
	}

	out := make([]*models.Context, len(order))
	for i, key := range order {
		out[i] = byKey[key]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// WeightedRRF is weighted reciprocal rank fusion: a chunk at 1-based rank r in a list of
// weight w contributes w/(K+r). Scores are rescaled so a chunk ranked first in both lists scores 1.
type WeightedRRF struct {
	K              int
	SemanticWeight float64
	KeywordWeight  float64
}

func (WeightedRRF) Name() string { return "rrf" }

func (f WeightedRRF) Fuse(semantic, keyword []*models.Context) []*models.Context {
	k := float64(f.K)
	if k <= 0 {
		k = 60
	}
	best := (f.SemanticWeight + f.KeywordWeight) / (k + 1)
	if best <= 0 {
		best = 1
	}

	fused := make(map[string]float64)
	byKey := make(map[string]*models.Context)
	var order []string
	rank := func(list []*models.Context, w float64) {
		for i, c := range list {
			key := c.Key()
			if _, ok := byKey[key]; !ok {
				cp := *c
				byKey[key] = &cp
				order = append(order, key)
			}
			fused[key] += w / (k + float64(i+1))
		}
	}
	rank(semantic, f.SemanticWeight)
	rank(keyword, f.KeywordWeight)

	out := make([]*models.Context, len(order))
	for i, key := range order {
		c := byKey[key]
		c.Score = fused[key] / best
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// NewFusion builds the configured strategy.
func NewFusion(cfg config.FusionConfig) (FusionStrategy, error) {
	switch cfg.Strategy {
	case "", "max":
		return MaxScoreFusion{KeywordDiscount: cfg.KeywordDiscount}, nil
	case "rrf":
		return WeightedRRF{K: cfg.RRFK, SemanticWeight: cfg.SemanticWeight, KeywordWeight: cfg.KeywordWeight}, nil
	default:
		return nil, fmt.Errorf("unknown fusion strategy: %s", cfg.Strategy)
	}
}

// capPerCase keeps at most limit contexts per case, preserving order. limit <= 0 disables the cap.
func capPerCase(contexts []*models.Context, limit int) []*models.Context {
	if limit <= 0 {
		return contexts
	}
	seen := make(map[string]int)
	out := contexts[:0:0]
	for _, c := range contexts {
		if seen[c.CaseID] >= limit {
			continue
		}
		seen[c.CaseID]++
		out = append(out, c)
	}
	return out
}
