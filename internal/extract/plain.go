package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as text, replacing invalid UTF-8 sequences.
func extractPlain(content []byte, ext string) (*Extraction, error) {
	text := string(content)
	if !utf8.Valid(content) {
		text = strings.ToValidUTF8(text, "�")
	}
	format := strings.TrimPrefix(ext, ".")
	if format == "" {
		format = "txt"
	}
	return &Extraction{Text: text, Format: format}, nil
}
