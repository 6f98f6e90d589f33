package models

import "time"

// TaskStatus is the lifecycle state of a solution task.
type TaskStatus string

const (
	StatusGenerating TaskStatus = "generating"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a task may move from s to next.
// Only generating tasks move, and only to a terminal state.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	return s == StatusGenerating && next.Terminal()
}

// ErrorKind classifies why a task failed.
type ErrorKind string

const (
	ErrorKindRetrieval   ErrorKind = "retrieval"
	ErrorKindGeneration  ErrorKind = "generation"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindCanceled    ErrorKind = "canceled"
	ErrorKindStorage     ErrorKind = "storage"
	ErrorKindInterrupted ErrorKind = "interrupted"
	ErrorKindInternal    ErrorKind = "internal"
)

// Outcome is the terminal result of a task: either generated content or a failure.
type Outcome struct {
	Status    TaskStatus `json:"status"`
	Content   string     `json:"content,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// Completed returns a successful outcome.
func Completed(content string) Outcome {
	return Outcome{Status: StatusCompleted, Content: content}
}

// Failed returns a failed outcome.
func Failed(kind ErrorKind, message string) Outcome {
	return Outcome{Status: StatusFailed, ErrorKind: kind, Message: message}
}

// ContextSummary is the persisted trace of one retrieved context; it carries no chunk text.
type ContextSummary struct {
	ChunkID   string  `json:"chunk_id"`
	CaseID    string  `json:"case_id"`
	CaseTitle string  `json:"case_title"`
	Score     float64 `json:"score"`
}

// EvaluationMetric is the metrics summary of one related case.
type EvaluationMetric struct {
	CaseID              string                 `json:"case_id"`
	CaseTitle           string                 `json:"case_title"`
	Industry            string                 `json:"industry,omitempty"`
	Technology          string                 `json:"technology,omitempty"`
	Metrics             map[string]interface{} `json:"metrics,omitempty"`
	AcceptanceStandards string                 `json:"acceptance_standards,omitempty"`
	RelevanceScore      float64                `json:"relevance_score"`
}

// Solution is a generation task and its result.
type Solution struct {
	ID                string             `json:"id"`
	UserInput         UserInput          `json:"user_input"`
	InputMethod       InputMethod        `json:"input_method"`
	Status            TaskStatus         `json:"status"`
	RelatedCaseIDs    []string           `json:"related_case_ids"`
	RelatedChunks     []ContextSummary   `json:"related_chunks"`
	EvaluationMetrics []EvaluationMetric `json:"evaluation_metrics"`
	GeneratedContent  string             `json:"generated_content,omitempty"`
	ErrorKind         ErrorKind          `json:"error_kind,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Outcome returns the terminal outcome of the task, or false while it is still generating.
func (s *Solution) Outcome() (Outcome, bool) {
	switch s.Status {
	case StatusCompleted:
		return Completed(s.GeneratedContent), true
	case StatusFailed:
		return Failed(s.ErrorKind, s.ErrorMessage), true
	default:
		return Outcome{}, false
	}
}

// SolutionFilter selects and paginates solution tasks.
type SolutionFilter struct {
	Status   TaskStatus `json:"status,omitempty"`
	Page     int        `json:"page,omitempty"`
	PageSize int        `json:"page_size,omitempty"`
}

// Normalize applies pagination defaults.
func (f *SolutionFilter) Normalize() {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
}

// Offset returns the row offset for the current page.
func (f *SolutionFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// SolutionList is one page of solution tasks.
type SolutionList struct {
	Solutions  []*Solution `json:"solutions"`
	Pagination Pagination  `json:"pagination"`
}
