package generation

import (
	"sort"

	"github.com/hyperjump/casepilot/internal/models"
)

// ExtractEvaluationMetrics summarizes the metrics and acceptance standards of the related
// cases. Cases without either are left out. Each entry's relevance is the best score among
// the case's contexts; entries are sorted by descending relevance.
func ExtractEvaluationMetrics(cases []*models.Case, contexts []*models.Context) []models.EvaluationMetric {
	best := make(map[string]float64, len(cases))
	for _, c := range contexts {
		if s, ok := best[c.CaseID]; !ok || c.Score > s {
			best[c.CaseID] = c.Score
		}
	}

	out := make([]models.EvaluationMetric, 0, len(cases))
	for _, c := range cases {
		if c == nil || !c.HasEvaluationData() {
			continue
		}
		out = append(out, models.EvaluationMetric{
			CaseID:              c.ID,
			CaseTitle:           c.Title,
			Industry:            c.Industry,
			Technology:          c.Technology,
			Metrics:             c.Metrics,
			AcceptanceStandards: c.AcceptanceStandards,
			RelevanceScore:      best[c.ID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

// summarize drops chunk text from the retrieved contexts and collects the related case IDs.
func summarize(out *models.RetrievalOutput) ([]string, []models.ContextSummary) {
	ids := make([]string, 0, len(out.RelatedCases))
	for _, c := range out.RelatedCases {
		ids = append(ids, c.ID)
	}
	chunks := make([]models.ContextSummary, 0, len(out.Contexts))
	for _, c := range out.Contexts {
		chunks = append(chunks, c.Summary())
	}
	return ids, chunks
}
