// Package indexer splits case documents into chunks and imports them into the case library.
package indexer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/pkg/utils"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Chunker splits text into overlapping, paragraph-aligned chunks. Sizes are in characters.
type Chunker struct {
	chunkSize    int
	overlap      int
	minChunkSize int
}

// NewChunker creates a chunker. Non-positive values fall back to 800/100/200.
func NewChunker(chunkSize, overlap, minChunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 100
	}
	if minChunkSize <= 0 || minChunkSize > chunkSize {
		minChunkSize = 200
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap, minChunkSize: minChunkSize}
}

// chunkBuffer accumulates text for the chunk being built.
type chunkBuffer struct {
	b strings.Builder
	// size is the buffer length in characters, paragraph separators included.
	size int
	// seed is the length in characters of the overlap prefix (with its separator).
	seed int
}

func (c *chunkBuffer) len() int     { return utils.RuneLen(c.b.String()) }
func (c *chunkBuffer) text() string { return c.b.String() }
func (c *chunkBuffer) empty() bool  { return c.b.Len() == 0 }

func (c *chunkBuffer) reset() {
	c.b.Reset()
	c.size = 0
	c.seed = 0
}

// Chunk splits text into chunks in emission order. Paragraphs are separated by blank lines;
// a chunk closes when the next paragraph would push it past chunkSize and it already holds
// at least minChunkSize characters. The next chunk starts with the last overlap characters of
// the closed one. Paragraphs longer than chunkSize are split at sentence ends.
func (c *Chunker) Chunk(text string) []*models.Chunk {
	var out []string
	var buf chunkBuffer

	emit := func() {
		content := strings.TrimSpace(buf.text())
		if content != "" {
			out = append(out, content)
		}
	}
	// roll closes the current chunk and seeds the buffer with its tail, joined to next by sep.
	// The tail shrinks when a full overlap would push the new chunk past chunkSize+overlap.
	roll := func(next, sep string) {
		emit()
		keep := c.chunkSize + c.overlap - utils.RuneLen(sep) - utils.RuneLen(next)
		if keep > c.overlap {
			keep = c.overlap
		}
		tail := ""
		if keep > 0 {
			tail = strings.TrimLeftFunc(utils.Tail(strings.TrimSpace(buf.text()), keep), unicode.IsSpace)
		}
		if tail == "" {
			sep = ""
		}
		buf.reset()
		buf.b.WriteString(tail)
		buf.b.WriteString(sep)
		buf.seed = utils.RuneLen(tail) + utils.RuneLen(sep)
		buf.b.WriteString(next)
		buf.size = buf.seed + utils.RuneLen(next)
	}

	for _, para := range splitParagraphs(text) {
		paraSize := utils.RuneLen(para)

		if paraSize > c.chunkSize {
			if buf.len() >= c.minChunkSize {
				emit()
				buf.reset()
			}
			for i, sentence := range splitSentences(para) {
				sSize := utils.RuneLen(sentence)
				if buf.size+sSize > c.chunkSize && buf.len() >= c.minChunkSize {
					roll(sentence, "")
					continue
				}
				if i == 0 && !buf.empty() {
					buf.b.WriteString("\n\n")
					buf.size += 2
				}
				buf.b.WriteString(sentence)
				buf.size += sSize
			}
			continue
		}

		sep := 0
		if !buf.empty() {
			sep = 2
		}
		if buf.size+sep+paraSize > c.chunkSize && buf.len() >= c.minChunkSize {
			roll(para, "\n\n")
			continue
		}
		if sep > 0 {
			buf.b.WriteString("\n\n")
		}
		buf.b.WriteString(para)
		buf.size += sep + paraSize
	}

	c.finish(&out, &buf)
	return c.toChunks(out)
}

// finish emits the last buffer. A remainder shorter than minChunkSize is merged into the
// previous chunk when the result stays within chunkSize+overlap, and emitted on its own otherwise.
func (c *Chunker) finish(out *[]string, buf *chunkBuffer) {
	rest := strings.TrimSpace(buf.text())
	if rest == "" {
		return
	}
	if utils.RuneLen(rest) >= c.minChunkSize || len(*out) == 0 {
		*out = append(*out, rest)
		return
	}
	fresh := strings.TrimSpace(string([]rune(buf.text())[buf.seed:]))
	if fresh == "" {
		return
	}
	last := len(*out) - 1
	merged := (*out)[last] + "\n\n" + fresh
	if utils.RuneLen(merged) <= c.chunkSize+c.overlap {
		(*out)[last] = merged
		return
	}
	*out = append(*out, rest)
}

func (c *Chunker) toChunks(contents []string) []*models.Chunk {
	if len(contents) == 0 {
		return nil
	}
	chunks := make([]*models.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, &models.Chunk{
			ID:         uuid.New().String(),
			Index:      i,
			Content:    content,
			TokenCount: EstimateTokens(content),
			Metadata: map[string]interface{}{
				"chunk_size":  utils.RuneLen(content),
				"chunk_index": i,
			},
		})
	}
	return chunks
}

func splitParagraphs(text string) []string {
	var paras []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// splitSentences splits at 。！？ and newlines, and at .!? followed by whitespace.
// Terminators stay with their sentence.
func splitSentences(para string) []string {
	runes := []rune(para)
	var sentences []string
	start := 0
	for i, r := range runes {
		end := false
		switch r {
		case '。', '！', '？', '\n':
			end = true
		case '.', '!', '?':
			end = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		}
		if end {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}
