package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildCorpus_ReturnsRequestedCases(t *testing.T) {
	c := BuildCorpus(30)
	if c.TotalCases != 30 || len(c.Cases) != 30 {
		t.Errorf("expected 30 cases, got %d (%d)", c.TotalCases, len(c.Cases))
	}
	if c.TotalQueries != len(topics) {
		t.Errorf("expected one query per topic (%d), got %d", len(topics), c.TotalQueries)
	}
}

func TestBuildCorpus_ExpectedCasesContainQueryPhrase(t *testing.T) {
	c := BuildCorpus(30)
	byID := make(map[string]E2ECase)
	for _, ec := range c.Cases {
		byID[ec.ID] = ec
	}
	for _, tc := range c.TestCases {
		if len(tc.ExpectedCaseIDs) == 0 {
			t.Errorf("query %q: no expected case IDs", tc.Query)
		}
		for _, id := range tc.ExpectedCaseIDs {
			ec, ok := byID[id]
			if !ok {
				t.Errorf("expected case %q not in corpus", id)
				continue
			}
			if !strings.Contains(ec.Content, tc.Query) {
				t.Errorf("case %q does not contain query phrase %q", id, tc.Query)
			}
		}
	}
}

func TestBuildCorpus_fewerCasesThanTopics(t *testing.T) {
	c := BuildCorpus(3)
	if c.TotalQueries != 3 {
		t.Errorf("queries = %d, want 3 (topics without cases are skipped)", c.TotalQueries)
	}
}

func TestCorpus_WriteLibrary(t *testing.T) {
	root := t.TempDir()
	c := BuildCorpus(len(LibraryExtensions))
	if err := c.WriteLibrary(root); err != nil {
		t.Fatal(err)
	}
	for _, ec := range c.Cases {
		path := filepath.Join(root, ec.ID, ec.ID+ec.Ext)
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Errorf("case file %s missing or empty: %v", path, err)
		}
	}
}
