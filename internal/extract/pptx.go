package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const pptxSlidePathPrefix = "ppt/slides/slide"

var (
	atTag      = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	slideNumRe = regexp.MustCompile(`slide(\d+)\.xml$`)
)

// extractPPTX returns one paragraph per slide, in slide order.
func extractPPTX(content []byte) (*Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: not a zip: %w", err)
	}

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, pptxSlidePathPrefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		m := slideNumRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		data, err := readZipEntry(zr, f.Name)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		var parts []string
		for _, p := range atTag.FindAllStringSubmatch(string(data), -1) {
			if t := strings.TrimSpace(p[1]); t != "" {
				parts = append(parts, t)
			}
		}
		slides = append(slides, slide{num: num, text: strings.Join(parts, " ")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var paragraphs []string
	for _, s := range slides {
		if s.text != "" {
			paragraphs = append(paragraphs, s.text)
		}
	}
	return &Extraction{
		Text:     strings.Join(paragraphs, "\n\n"),
		Format:   "pptx",
		Metadata: map[string]interface{}{"slides": len(slides)},
	}, nil
}
