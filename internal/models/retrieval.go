package models

// RetrievalResult is one nearest-neighbour hit from the embedding index.
type RetrievalResult struct {
	ChunkID    string                 `json:"chunk_id"`
	CaseID     string                 `json:"case_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Distance   float64                `json:"distance"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Context is a retrieved chunk joined with its owning case, ready for prompt assembly.
type Context struct {
	ChunkID                 string                 `json:"chunk_id"`
	CaseID                  string                 `json:"case_id"`
	CaseTitle               string                 `json:"case_title"`
	CaseIndustry            string                 `json:"case_industry,omitempty"`
	CaseScenario            string                 `json:"case_scenario,omitempty"`
	CaseTechnology          string                 `json:"case_technology,omitempty"`
	CaseMetrics             map[string]interface{} `json:"case_metrics,omitempty"`
	CaseAcceptanceStandards string                 `json:"case_acceptance_standards,omitempty"`
	Content                 string                 `json:"content"`
	Score                   float64                `json:"score"`
	// Source is "semantic" or "keyword".
	Source string `json:"source,omitempty"`
}

// Key identifies a context across retrieval probes.
func (c *Context) Key() string {
	return c.CaseID + "_" + c.ChunkID
}

// Summary drops the chunk text.
func (c *Context) Summary() ContextSummary {
	return ContextSummary{ChunkID: c.ChunkID, CaseID: c.CaseID, CaseTitle: c.CaseTitle, Score: c.Score}
}

// RetrievalOutput is the result of a retrieval call. RelatedCases holds exactly
// the cases represented in Contexts, in first-seen order.
type RetrievalOutput struct {
	Contexts     []*Context `json:"contexts"`
	RelatedCases []*Case    `json:"related_cases"`
}
