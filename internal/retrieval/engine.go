// Package retrieval finds the case chunks that ground a generated proposal.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/keyword"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/vector"
	"go.uber.org/zap"
)

// Context sources.
const (
	SourceSemantic = "semantic"
	SourceKeyword  = "keyword"
)

// Keyword probe backends.
const (
	ProbeVector = "vector"
	ProbeBleve  = "bleve"
)

// SemanticIndex is the similarity search the engine runs on. *vector.EmbeddingIndex implements it.
type SemanticIndex interface {
	Query(ctx context.Context, text string, opts vector.QueryOptions) ([]*models.RetrievalResult, error)
}

// KeywordSearcher is the full-text search used by the bleve keyword probe.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, opts keyword.SearchOptions) ([]*keyword.Hit, error)
}

// CaseLookup resolves case ids. storage.Storage implements it.
type CaseLookup interface {
	GetCases(ctx context.Context, ids []string) (map[string]*models.Case, error)
}

// Engine runs basic and enhanced retrieval.
type Engine struct {
	index    SemanticIndex
	keywords KeywordSearcher
	cases    CaseLookup
	fusion   FusionStrategy
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithKeywordIndex enables the bleve keyword probe.
func WithKeywordIndex(k KeywordSearcher) EngineOption {
	return func(e *Engine) {
		e.keywords = k
	}
}

// WithFusion overrides the fusion strategy built from the config.
func WithFusion(f FusionStrategy) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.fusion = f
		}
	}
}

// NewEngine creates a retrieval engine.
func NewEngine(index SemanticIndex, cases CaseLookup, cfg config.RetrievalConfig, opts ...EngineOption) (*Engine, error) {
	fusion, err := NewFusion(cfg.Fusion)
	if err != nil {
		return nil, err
	}
	if cfg.PerCaseCap == 0 {
		cfg.PerCaseCap = 2
	}
	e := &Engine{
		index:  index,
		cases:  cases,
		fusion: fusion,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Retrieve queries the index for 2×topK candidates, keeps at most PerCaseCap chunks per case,
// stops at topK contexts and returns them best first with the cases they come from.
// minScore < 0 uses the configured default.
func (e *Engine) Retrieve(ctx context.Context, input *models.UserInput, method models.InputMethod, topK int, minScore float64) (*models.RetrievalOutput, error) {
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	if minScore < 0 {
		minScore = e.cfg.DefaultMinScore
	}
	queryText := BuildQueryText(input, method)
	contexts, caseMap, err := e.semanticProbe(ctx, queryText, topK, minScore)
	if err != nil {
		return nil, err
	}
	out := buildOutput(contexts, caseMap)
	e.logger.Info("retrieval finished",
		zap.Int("contexts", len(out.Contexts)),
		zap.Int("cases", len(out.RelatedCases)))
	return out, nil
}

func (e *Engine) semanticProbe(ctx context.Context, queryText string, topK int, minScore float64) ([]*models.Context, map[string]*models.Case, error) {
	results, err := e.index.Query(ctx, queryText, vector.QueryOptions{TopK: topK * 2, MinScore: minScore})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query embedding index: %w", err)
	}
	if len(results) == 0 {
		e.logger.Warn("no chunks above threshold", zap.Float64("min_score", minScore))
		return nil, nil, nil
	}
	caseMap, err := e.lookupCases(ctx, results)
	if err != nil {
		return nil, nil, err
	}

	perCase := make(map[string]int)
	contexts := make([]*models.Context, 0, topK)
	for _, r := range results {
		c, ok := caseMap[r.CaseID]
		if !ok {
			continue
		}
		if perCase[r.CaseID] >= e.cfg.PerCaseCap {
			continue
		}
		perCase[r.CaseID]++
		contexts = append(contexts, newContext(r, c, SourceSemantic))
		if len(contexts) >= topK {
			break
		}
	}
	sort.SliceStable(contexts, func(i, j int) bool { return contexts[i].Score > contexts[j].Score })
	return contexts, caseMap, nil
}

// EnhancedRetrieve combines a semantic probe over SemanticShare of topK with, for form input,
// a keyword probe over the categorical fields for KeywordShare of topK. The probes run
// concurrently; a failed keyword probe is logged and ignored. Results are fused, capped per
// case and truncated to topK; RelatedCases lists exactly the cases left in Contexts.
func (e *Engine) EnhancedRetrieve(ctx context.Context, input *models.UserInput, method models.InputMethod, topK int) (*models.RetrievalOutput, error) {
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	semanticK := shareOf(topK, e.cfg.SemanticShare)
	keywordK := shareOf(topK, e.cfg.KeywordShare)
	keywordQuery := ""
	if method == models.InputForm {
		keywordQuery = BuildKeywordQuery(input)
	}

	var (
		wg                          sync.WaitGroup
		semantic, kw                []*models.Context
		semanticCases, keywordCases map[string]*models.Case
		semanticErr, keywordErr     error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		semantic, semanticCases, semanticErr = e.semanticProbe(ctx, BuildQueryText(input, method), semanticK, e.cfg.RelaxedMinScore)
	}()
	if keywordQuery != "" && keywordK > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kw, keywordCases, keywordErr = e.keywordProbe(ctx, keywordQuery, keywordK)
		}()
	}
	wg.Wait()

	if semanticErr != nil {
		return nil, semanticErr
	}
	if keywordErr != nil {
		e.logger.Warn("keyword probe failed, using semantic results only", zap.Error(keywordErr))
		kw = nil
	}

	caseMap := make(map[string]*models.Case, len(semanticCases)+len(keywordCases))
	for id, c := range semanticCases {
		caseMap[id] = c
	}
	for id, c := range keywordCases {
		caseMap[id] = c
	}

	merged := capPerCase(e.fusion.Fuse(semantic, kw), e.cfg.PerCaseCap)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	out := buildOutput(merged, caseMap)
	e.logger.Info("enhanced retrieval finished",
		zap.String("fusion", e.fusion.Name()),
		zap.Int("semantic", len(semantic)),
		zap.Int("keyword", len(kw)),
		zap.Int("contexts", len(out.Contexts)),
		zap.Int("cases", len(out.RelatedCases)))
	return out, nil
}

// keywordProbe returns up to k contexts for the categorical query, scored in [0,1].
func (e *Engine) keywordProbe(ctx context.Context, query string, k int) ([]*models.Context, map[string]*models.Case, error) {
	var results []*models.RetrievalResult
	switch {
	case e.cfg.KeywordProbe == ProbeBleve && e.keywords != nil:
		hits, err := e.keywords.Search(ctx, query, keyword.SearchOptions{Limit: k})
		if err != nil {
			return nil, nil, fmt.Errorf("keyword search failed: %w", err)
		}
		results = normalizeHits(hits)
	default:
		var err error
		results, err = e.index.Query(ctx, query, vector.QueryOptions{TopK: k, MinScore: e.cfg.RelaxedMinScore})
		if err != nil {
			return nil, nil, fmt.Errorf("keyword embedding query failed: %w", err)
		}
	}
	if len(results) == 0 {
		return nil, nil, nil
	}
	caseMap, err := e.lookupCases(ctx, results)
	if err != nil {
		return nil, nil, err
	}
	contexts := make([]*models.Context, 0, len(results))
	for _, r := range results {
		if c, ok := caseMap[r.CaseID]; ok {
			contexts = append(contexts, newContext(r, c, SourceKeyword))
		}
	}
	return contexts, caseMap, nil
}

// SearchCases runs a semantic query and groups the hits by case. A case's relevance is its
// best chunk score.
func (e *Engine) SearchCases(ctx context.Context, query string, topK int) ([]*models.CaseMatch, error) {
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	results, err := e.index.Query(ctx, query, vector.QueryOptions{TopK: topK, MinScore: e.cfg.DefaultMinScore})
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding index: %w", err)
	}
	if len(results) == 0 {
		return []*models.CaseMatch{}, nil
	}
	caseMap, err := e.lookupCases(ctx, results)
	if err != nil {
		return nil, err
	}
	byCase := make(map[string]*models.CaseMatch)
	var order []string
	for _, r := range results {
		c, ok := caseMap[r.CaseID]
		if !ok {
			continue
		}
		m, ok := byCase[r.CaseID]
		if !ok {
			m = &models.CaseMatch{Case: c}
			byCase[r.CaseID] = m
			order = append(order, r.CaseID)
		}
		m.MatchedChunks++
		m.RelevanceScore = math.Max(m.RelevanceScore, r.Score)
	}
	out := make([]*models.CaseMatch, len(order))
	for i, id := range order {
		out[i] = byCase[id]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	return out, nil
}

func (e *Engine) lookupCases(ctx context.Context, results []*models.RetrievalResult) (map[string]*models.Case, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range results {
		if r.CaseID != "" && !seen[r.CaseID] {
			seen[r.CaseID] = true
			ids = append(ids, r.CaseID)
		}
	}
	caseMap, err := e.cases.GetCases(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cases: %w", err)
	}
	return caseMap, nil
}

func newContext(r *models.RetrievalResult, c *models.Case, source string) *models.Context {
	return &models.Context{
		ChunkID:                 r.ChunkID,
		CaseID:                  r.CaseID,
		CaseTitle:               c.Title,
		CaseIndustry:            c.Industry,
		CaseScenario:            c.Scenario,
		CaseTechnology:          c.Technology,
		CaseMetrics:             c.Metrics,
		CaseAcceptanceStandards: c.AcceptanceStandards,
		Content:                 r.Content,
		Score:                   r.Score,
		Source:                  source,
	}
}

// buildOutput derives RelatedCases from the final contexts, in first-seen order.
func buildOutput(contexts []*models.Context, caseMap map[string]*models.Case) *models.RetrievalOutput {
	out := &models.RetrievalOutput{
		Contexts:     contexts,
		RelatedCases: []*models.Case{},
	}
	if out.Contexts == nil {
		out.Contexts = []*models.Context{}
	}
	seen := make(map[string]bool)
	for _, c := range contexts {
		if seen[c.CaseID] {
			continue
		}
		seen[c.CaseID] = true
		if cs, ok := caseMap[c.CaseID]; ok {
			out.RelatedCases = append(out.RelatedCases, cs)
		}
	}
	return out
}

// normalizeHits scales BM25 scores by the best hit so they are comparable to similarities.
func normalizeHits(hits []*keyword.Hit) []*models.RetrievalResult {
	maxScore := 0.0
	for _, h := range hits {
		maxScore = math.Max(maxScore, h.Score)
	}
	out := make([]*models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		score := 0.0
		if maxScore > 0 {
			score = h.Score / maxScore
		}
		out = append(out, &models.RetrievalResult{
			ChunkID:    h.ChunkID,
			CaseID:     h.CaseID,
			ChunkIndex: h.ChunkIndex,
			Content:    h.Content,
			Score:      score,
		})
	}
	return out
}

func shareOf(topK int, share float64) int {
	if share <= 0 {
		return 0
	}
	return int(math.Ceil(float64(topK) * share))
}
