package indexer

import (
	"path/filepath"
	"strings"

	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/pkg/utils"
)

var titleKeywords = []string{"项目", "系统", "方案", "project", "system", "solution"}

// ExtractMetadata derives a title and description from the document text. The title defaults to
// the file name; a short line near the top that names a project, system or solution replaces it.
func ExtractMetadata(text, filename string) models.CaseMetadata {
	base := filepath.Base(filename)
	meta := models.CaseMetadata{
		Title: strings.TrimSuffix(base, filepath.Ext(base)),
	}

	lines := strings.Split(text, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		n := utils.RuneLen(line)
		if n <= 5 || n >= 50 {
			continue
		}
		if containsAny(strings.ToLower(line), titleKeywords) {
			meta.Title = line
			break
		}
	}

	meta.Description = utils.CollapseWhitespace(utils.Head(text, 200))
	return meta
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Summary returns the first 300 characters of text.
func Summary(text string) string {
	return utils.Head(strings.TrimSpace(text), 300)
}
