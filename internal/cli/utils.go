// Package cli provides output formatting and an API client for the casepilot CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/casepilot/internal/indexer"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/internal/storage"
	"github.com/hyperjump/casepilot/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const separator = "─────────────────────────────────────────────────────────"

// ParseOutputFormat validates an --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Cases           int64                  `json:"cases"`
	Chunks          int64                  `json:"chunks"`
	Solutions       int64                  `json:"solutions"`
	RunningTasks    int                    `json:"running_tasks"`
	VectorIndexSize int                    `json:"vector_index_size"`
	VectorStore     string                 `json:"vector_store,omitempty"`
	Importing       bool                   `json:"importing"`
	LastImport      *ImportState           `json:"last_import,omitempty"`
	DiskUsage       *storage.DiskUsage     `json:"disk_usage,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
}

// ImportState is the latest library import reported by the server.
type ImportState struct {
	Directory  string                `json:"directory"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Report     *indexer.ImportReport `json:"report,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSolution writes one solution task. In text mode the generated proposal is printed
// in full after the task header.
func WriteSolution(w io.Writer, sol *models.Solution, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, sol)
	}
	fmt.Fprintf(w, "Solution: %s\n", sol.ID)
	fmt.Fprintf(w, "Title:    %s\n", sol.UserInput.Title)
	fmt.Fprintf(w, "Method:   %s\n", sol.InputMethod)
	fmt.Fprintf(w, "Status:   %s\n", sol.Status)
	if sol.Status == models.StatusFailed {
		fmt.Fprintf(w, "Error:    [%s] %s\n", sol.ErrorKind, sol.ErrorMessage)
	}
	if len(sol.RelatedChunks) > 0 {
		fmt.Fprintln(w, "\nReference cases:")
		for _, c := range sol.RelatedChunks {
			fmt.Fprintf(w, "  %5.1f%%  %s\n", c.Score*100, c.CaseTitle)
		}
	}
	if sol.GeneratedContent != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", separator, sol.GeneratedContent)
	}
	return nil
}

// WriteSolutionList writes a page of solution tasks, one per line in text mode.
func WriteSolutionList(w io.Writer, list *models.SolutionList, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, list)
	}
	for _, s := range list.Solutions {
		fmt.Fprintf(w, "%s  %-10s  %s  %s\n", s.ID, s.Status, s.CreatedAt.Format("2006-01-02 15:04"), utils.Truncate(s.UserInput.Title, 40))
	}
	writePagination(w, list.Pagination)
	return nil
}

// WriteCaseList writes a page of cases.
func WriteCaseList(w io.Writer, list *models.CaseList, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, list)
	}
	for _, c := range list.Cases {
		writeCase(w, c)
	}
	writePagination(w, list.Pagination)
	return nil
}

// WriteCaseMatches writes semantic case search results, best first.
func WriteCaseMatches(w io.Writer, query string, matches []*models.CaseMatch, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"query": query, "total": len(matches), "results": matches})
	}
	fmt.Fprintf(w, "\nFound %d case(s) for %q\n\n", len(matches), query)
	for i, m := range matches {
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "Rank: %d | Relevance: %.1f%% | Matched chunks: %d\n", i+1, m.RelevanceScore*100, m.MatchedChunks)
		writeCase(w, m.Case)
	}
	return nil
}

func writeCase(w io.Writer, c *models.Case) {
	fmt.Fprintf(w, "%s  %s\n", c.ID, c.Title)
	var tags []string
	for _, t := range []string{c.Industry, c.Scenario, c.Technology} {
		if t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) > 0 {
		fmt.Fprintf(w, "    %s\n", strings.Join(tags, " / "))
	}
	if c.Description != "" {
		fmt.Fprintf(w, "    %s\n", utils.Truncate(c.Description, 120))
	}
	if len(c.Metrics) > 0 {
		keys := make([]string, 0, len(c.Metrics))
		for k := range c.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, c.Metrics[k])
		}
		fmt.Fprintf(w, "    metrics: %s\n", strings.Join(parts, ", "))
	}
}

func writePagination(w io.Writer, p models.Pagination) {
	fmt.Fprintf(w, "\npage %d/%d (%d total)\n", p.Page, p.TotalPages, p.Total)
}

// WriteImportReport writes the result of a library import.
func WriteImportReport(w io.Writer, report *indexer.ImportReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	fmt.Fprintf(w, "Imported %d case(s), skipped %d, failed %d\n", report.Imported, report.Skipped, report.Failed)
	for _, c := range report.Cases {
		fmt.Fprintf(w, "  + %s  %s\n", c.ID, c.Title)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "  ! %s\n", e)
	}
	return nil
}

// WriteStatus writes library and index statistics.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "cases:              %d   # imported project cases\n", s.Cases)
	fmt.Fprintf(w, "chunks:             %d   # text chunks\n", s.Chunks)
	fmt.Fprintf(w, "solutions:          %d   # generation tasks\n", s.Solutions)
	fmt.Fprintf(w, "running_tasks:      %d\n", s.RunningTasks)
	fmt.Fprintf(w, "vector_index_size:  %d   # vectors in the semantic index\n", s.VectorIndexSize)
	if s.VectorStore != "" {
		fmt.Fprintf(w, "vector_store:       %s\n", s.VectorStore)
	}
	if s.DiskUsage != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database %d, keyword index %d, vectors %d\n",
			s.DiskUsage.Total, s.DiskUsage.Database, s.DiskUsage.Keyword, s.DiskUsage.Vectors)
	}
	if s.Importing {
		fmt.Fprintln(w, "import:             running")
	}
	if s.LastImport != nil && s.LastImport.Report != nil {
		r := s.LastImport.Report
		fmt.Fprintf(w, "last_import:        %s (%d imported, %d skipped, %d failed)\n",
			s.LastImport.Directory, r.Imported, r.Skipped, r.Failed)
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-21s %v\n", k+":", s.Config[k])
		}
	}
	return nil
}
