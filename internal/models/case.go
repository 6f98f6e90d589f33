// Package models defines core data structures for project cases, chunks, retrieval results and solution tasks.
package models

import "time"

// Case is one historical project in the case library.
type Case struct {
	ID                  string                 `json:"id" db:"id"`
	Title               string                 `json:"title" db:"title"`
	Industry            string                 `json:"industry" db:"industry"`
	Scenario            string                 `json:"scenario" db:"scenario"`
	Technology          string                 `json:"technology" db:"technology"`
	Description         string                 `json:"description" db:"description"`
	Summary             string                 `json:"summary" db:"summary"`
	Metrics             map[string]interface{} `json:"metrics,omitempty" db:"metrics"`
	AcceptanceStandards string                 `json:"acceptance_standards,omitempty" db:"acceptance_standards"`
	DocPath             string                 `json:"doc_path" db:"doc_path"`
	SourceKey           string                 `json:"source_key,omitempty" db:"source_key"`
	ViewCount           int                    `json:"view_count" db:"view_count"`
	CreatedAt           time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at" db:"updated_at"`
}

// HasEvaluationData reports whether the case carries metrics or acceptance standards.
func (c *Case) HasEvaluationData() bool {
	return len(c.Metrics) > 0 || c.AcceptanceStandards != ""
}

// Chunk is a contiguous slice of a case document, the unit of embedding and retrieval.
type Chunk struct {
	ID         string                 `json:"chunk_id" db:"id"`
	CaseID     string                 `json:"case_id" db:"case_id"`
	Index      int                    `json:"chunk_index" db:"chunk_index"`
	Content    string                 `json:"content" db:"content"`
	TokenCount int                    `json:"token_count" db:"token_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// VectorMapping links a stored chunk to its entry in the vector store.
type VectorMapping struct {
	CaseID   string `json:"case_id" db:"case_id"`
	ChunkID  string `json:"chunk_id" db:"chunk_id"`
	VectorID string `json:"vector_id" db:"vector_id"`
}

// Sortable case columns.
const (
	SortByCreatedAt = "created_at"
	SortByTitle     = "title"
	SortByViewCount = "view_count"
)

// CaseFilter selects and paginates cases.
type CaseFilter struct {
	Industry   string `json:"industry,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
	Technology string `json:"technology,omitempty"`
	Keyword    string `json:"keyword,omitempty"`
	Page       int    `json:"page,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
	SortBy     string `json:"sort_by,omitempty"`
	SortOrder  string `json:"sort_order,omitempty"`
}

// Normalize applies pagination defaults and restricts sorting to known columns.
func (f *CaseFilter) Normalize() {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
	switch f.SortBy {
	case SortByCreatedAt, SortByTitle, SortByViewCount:
	default:
		f.SortBy = SortByCreatedAt
	}
	if f.SortOrder != "ASC" && f.SortOrder != "asc" {
		f.SortOrder = "DESC"
	} else {
		f.SortOrder = "ASC"
	}
}

// Offset returns the row offset for the current page.
func (f *CaseFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination builds pagination info for total rows.
func NewPagination(page, pageSize, total int) Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages}
}

// CaseList is one page of cases.
type CaseList struct {
	Cases      []*Case    `json:"cases"`
	Pagination Pagination `json:"pagination"`
}

// CaseMatch is a case found by semantic search with its best chunk score.
type CaseMatch struct {
	Case           *Case   `json:"case"`
	RelevanceScore float64 `json:"relevance_score"`
	MatchedChunks  int     `json:"matched_chunks"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// CaseMetadata is the descriptive metadata derived from a case document at import time.
type CaseMetadata struct {
	Title               string                 `json:"title"`
	Industry            string                 `json:"industry"`
	Scenario            string                 `json:"scenario"`
	Technology          string                 `json:"technology"`
	Description         string                 `json:"description"`
	Metrics             map[string]interface{} `json:"metrics,omitempty"`
	AcceptanceStandards string                 `json:"acceptance_standards,omitempty"`
}
