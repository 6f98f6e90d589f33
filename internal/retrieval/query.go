package retrieval

import (
	"strings"

	"github.com/hyperjump/casepilot/internal/models"
)

// BuildQueryText renders a requirement as the text that is embedded for retrieval.
// Free text is the title and description; a form is one labelled line per present field.
func BuildQueryText(input *models.UserInput, method models.InputMethod) string {
	if method == models.InputText {
		return strings.TrimSpace(input.Title + "\n" + input.Description)
	}
	var lines []string
	for _, f := range []struct{ label, value string }{
		{"项目标题", input.Title},
		{"所属行业", input.Industry},
		{"技术方向", input.Technology},
		{"项目目标", input.Objectives},
		{"技术要求", input.Requirements},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			lines = append(lines, f.label+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

// BuildKeywordQuery joins the categorical fields of a requirement for the keyword probe.
// It returns "" when none is set.
func BuildKeywordQuery(input *models.UserInput) string {
	var terms []string
	for _, v := range []string{input.Industry, input.Technology, input.Scenario} {
		if v = strings.TrimSpace(v); v != "" {
			terms = append(terms, v)
		}
	}
	return strings.Join(terms, " ")
}
