package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

const (
	docType       = "chunk"
	deleteBatch   = 500
	defaultLimit  = 10
	fieldContent  = "content"
	fieldTitle    = "title"
	fieldCaseID   = "case_id"
	fieldChunkIdx = "chunk_index"
	fieldIndustry = "industry"
	fieldTech     = "technology"
	fieldScenario = "scenario"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// Text fields use the cjk analyzer: Chinese is indexed as bigrams and Latin words as lowercase terms.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemBleveIndex creates an in-memory index, used when no index path is configured.
func NewMemBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = cjk.AnalyzerName
	for _, f := range []string{fieldContent, fieldTitle, fieldIndustry, fieldTech, fieldScenario} {
		docMapping.AddFieldMappingsAt(f, text)
	}

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt(fieldCaseID, exact)
	docMapping.AddFieldMappingsAt("chunk_id", exact)

	num := bleve.NewNumericFieldMapping()
	docMapping.AddFieldMappingsAt(fieldChunkIdx, num)

	im.AddDocumentMapping(docType, docMapping)
	im.DefaultType = docType
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = cjk.AnalyzerName
	return im
}

// IndexChunks indexes chunks by chunk ID in one batch. Existing chunks are replaced.
func (b *BleveIndex) IndexChunks(ctx context.Context, docs []*ChunkDoc) error {
	if len(docs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, d := range docs {
		if d.ChunkID == "" {
			return fmt.Errorf("chunk of case %s has no id", d.CaseID)
		}
		if err := batch.Index(d.ChunkID, d); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", d.ChunkID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// Search runs a match query over the chunk content and the case's categorical fields.
func (b *BleveIndex) Search(ctx context.Context, query string, opts SearchOptions) ([]*Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var q blevequery.Query = b.buildTextQuery(query, opts)
	if opts.CaseID != "" {
		caseQ := bleve.NewTermQuery(opts.CaseID)
		caseQ.SetField(fieldCaseID)
		q = bleve.NewConjunctionQuery(q, caseQ)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{fieldCaseID, fieldChunkIdx, fieldContent}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		h := &Hit{ChunkID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields[fieldCaseID].(string); ok {
			h.CaseID = v
		}
		if v, ok := hit.Fields[fieldChunkIdx].(float64); ok {
			h.ChunkIndex = int(v)
		}
		if v, ok := hit.Fields[fieldContent].(string); ok {
			h.Content = v
		}
		out = append(out, h)
	}
	return out, nil
}

// buildTextQuery is a disjunction of per-field match queries, plus fuzzy term queries
// for Latin words when enabled.
func (b *BleveIndex) buildTextQuery(query string, opts SearchOptions) blevequery.Query {
	fields := []string{fieldContent, fieldTitle, fieldIndustry, fieldTech, fieldScenario}
	parts := make([]blevequery.Query, 0, len(fields)+4)
	for _, f := range fields {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(f)
		if f == fieldTitle && opts.TitleBoost > 1 {
			mq.SetBoost(opts.TitleBoost)
		}
		parts = append(parts, mq)
	}
	if opts.FuzzyEnabled {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 1
		}
		for _, term := range latinTerms(query) {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetField(fieldContent)
			fq.SetFuzziness(fuzziness)
			parts = append(parts, fq)
		}
	}
	return bleve.NewDisjunctionQuery(parts...)
}

// latinTerms returns the lowercase Latin words of query that are long enough to fuzz.
func latinTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) >= 4 {
			terms = append(terms, w)
		}
	}
	return terms
}

// DeleteCase removes every chunk whose case_id equals caseID.
func (b *BleveIndex) DeleteCase(ctx context.Context, caseID string) (int, error) {
	removed := 0
	for {
		q := bleve.NewTermQuery(caseID)
		q.SetField(fieldCaseID)
		req := bleve.NewSearchRequest(q)
		req.Size = deleteBatch
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return removed, fmt.Errorf("failed to find chunks of case %s: %w", caseID, err)
		}
		if len(results.Hits) == 0 {
			return removed, nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return removed, fmt.Errorf("failed to delete chunks of case %s: %w", caseID, err)
		}
		removed += len(results.Hits)
	}
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
