package e2e

import (
	"strings"
	"testing"

	"github.com/hyperjump/casepilot/internal/extract"
)

func TestWriteMinimalFile_AllExtensionsExtractable(t *testing.T) {
	e := extract.NewExtractor()
	sample := "E2E searchable content\nsecond line"
	for _, ext := range LibraryExtensions {
		ext := ext
		t.Run(ext, func(t *testing.T) {
			content, err := WriteMinimalFile(ext, sample)
			if err != nil {
				t.Fatalf("WriteMinimalFile: %v", err)
			}
			if len(content) == 0 {
				t.Fatal("empty content")
			}
			got, err := e.ExtractBytes(content, ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			for _, want := range []string{"E2E searchable content", "second line"} {
				if !strings.Contains(got.Text, want) {
					t.Errorf("extracted text %q does not contain %q", got.Text, want)
				}
			}
		})
	}
}

func TestWriteMinimalFile_unsupported(t *testing.T) {
	if _, err := WriteMinimalFile(".odp", "x"); err == nil {
		t.Error("expected error for extension without a writer")
	}
}
