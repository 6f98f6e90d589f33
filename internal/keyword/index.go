// Package keyword provides keyword (BM25) indexing and search over case chunks.
package keyword

import (
	"context"
)

// ChunkDoc is the keyword-indexed view of one chunk. The categorical fields come from the
// owning case so a probe on industry or technology finds its chunks.
type ChunkDoc struct {
	ChunkID    string `json:"chunk_id"`
	CaseID     string `json:"case_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Title      string `json:"title"`
	Industry   string `json:"industry"`
	Technology string `json:"technology"`
	Scenario   string `json:"scenario"`
}

// SearchOptions optional parameters for keyword search. Zero values mean defaults.
type SearchOptions struct {
	// Limit caps the number of hits (default 10).
	Limit int
	// CaseID restricts the search to one case.
	CaseID string
	// TitleBoost multiplies matches in the case title. Values <= 1 disable the boost.
	TitleBoost float64
	// FuzzyEnabled matches Latin terms within Fuzziness edits (default 1).
	FuzzyEnabled bool
	Fuzziness    int
}

// Hit is a single keyword search result. Score is the raw BM25 score.
type Hit struct {
	ChunkID    string
	CaseID     string
	ChunkIndex int
	Content    string
	Score      float64
}

// KeywordIndex defines keyword index operations over chunks.
type KeywordIndex interface {
	IndexChunks(ctx context.Context, docs []*ChunkDoc) error
	Search(ctx context.Context, query string, opts SearchOptions) ([]*Hit, error)
	// DeleteCase removes every chunk of a case and returns how many were removed.
	DeleteCase(ctx context.Context, caseID string) (int, error)
	// DocCount returns the total number of chunks in the index.
	DocCount() (uint64, error)
	Close() error
}
