package indexer

import (
	"fmt"
	"strings"
	"testing"
	"unicode"

	"github.com/hyperjump/casepilot/pkg/utils"
)

// paragraphs returns n paragraphs of exactly 18 characters, each followed by a blank line.
func paragraphs(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(fmt.Sprintf("p%03d", i))
		b.WriteString(strings.Repeat("x", 14))
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestChunker_2400Characters(t *testing.T) {
	var paras []string
	for _, r := range []string{"a", "b", "c"} {
		paras = append(paras, strings.Repeat(r, 798))
	}
	text := strings.Join(paras, "\n\n") + "\n\n"
	if utils.RuneLen(text) != 2400 {
		t.Fatalf("fixture length = %d", utils.RuneLen(text))
	}
	chunks := NewChunker(800, 100, 200).Chunk(text)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Content == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if n := utils.RuneLen(ch.Content); n > 900 {
			t.Errorf("chunk %d has %d characters", i, n)
		}
		if ch.Index != i {
			t.Errorf("chunk %d Index=%d", i, ch.Index)
		}
		if ch.ID == "" {
			t.Error("chunk ID should be set")
		}
		if ch.Metadata["chunk_index"] != i {
			t.Errorf("chunk %d metadata index = %v", i, ch.Metadata["chunk_index"])
		}
	}
	if !strings.HasSuffix(chunks[2].Content, paras[2]) {
		t.Error("last paragraph should be kept")
	}
	if !strings.HasPrefix(chunks[1].Content, strings.Repeat("a", 100)+"\n\n") {
		t.Error("second chunk should start with the overlap from the first")
	}
}

func TestChunker_ManyShortParagraphsStayWithinLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString(fmt.Sprintf("%04d\n\n", i))
	}
	chunks := NewChunker(800, 100, 200).Chunk(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := utils.RuneLen(ch.Content); n > 900 {
			t.Errorf("chunk %d has %d characters, limit 900", i, n)
		}
	}
	for i := 0; i+1 < len(chunks); i++ {
		if n := utils.RuneLen(chunks[i].Content); n > 800 {
			t.Errorf("closed chunk %d has %d characters, want <= 800", i, n)
		}
	}
}

func TestChunker_OverlapShrinksForFullParagraph(t *testing.T) {
	text := strings.Repeat("a", 400) + "\n\n" + strings.Repeat("b", 800)
	chunks := NewChunker(800, 100, 200).Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if n := utils.RuneLen(chunks[1].Content); n > 900 {
		t.Errorf("second chunk has %d characters", n)
	}
	if !strings.HasSuffix(chunks[1].Content, strings.Repeat("b", 800)) {
		t.Error("paragraph should be kept whole")
	}
}

func TestChunker_OverlapPrefix(t *testing.T) {
	overlap := 100
	chunks := NewChunker(800, overlap, 200).Chunk(paragraphs(120))
	for i := 0; i+1 < len(chunks); i++ {
		tail := strings.TrimLeftFunc(utils.Tail(chunks[i].Content, overlap), unicode.IsSpace)
		if !strings.HasPrefix(chunks[i+1].Content, tail) {
			t.Errorf("chunk %d does not start with the tail of chunk %d", i+1, i)
		}
	}
}

func TestChunker_ReconstructsParagraphSequence(t *testing.T) {
	chunks := NewChunker(800, 100, 200).Chunk(paragraphs(120))
	seen := make(map[string]bool)
	var order []string
	for _, ch := range chunks {
		for _, p := range splitParagraphs(ch.Content) {
			if len(p) == 18 && !seen[p] {
				seen[p] = true
				order = append(order, p)
			}
		}
	}
	if len(order) != 120 {
		t.Fatalf("expected 120 distinct paragraphs, got %d", len(order))
	}
	for i, p := range order {
		if !strings.HasPrefix(p, fmt.Sprintf("p%03d", i)) {
			t.Fatalf("paragraph %d out of order: %s", i, p)
		}
	}
}

func TestChunker_OversizedParagraphSplitsOnSentences(t *testing.T) {
	sentence := strings.Repeat("检", 49) + "。"
	text := strings.Repeat(sentence, 40)
	chunks := NewChunker(800, 100, 200).Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected sentence split, got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if n := utils.RuneLen(ch.Content); n > 900 {
			t.Errorf("chunk %d has %d characters", i, n)
		}
	}
	if !strings.HasSuffix(chunks[0].Content, "。") {
		t.Error("sentence terminators should be kept")
	}
}

func TestChunker_ShortRemainderMerged(t *testing.T) {
	c := NewChunker(100, 20, 80)
	a := strings.Repeat("a", 90)

	chunks := c.Chunk(a + "\n\n" + strings.Repeat("b", 28))
	if len(chunks) != 1 {
		t.Fatalf("expected remainder merged into one chunk, got %d", len(chunks))
	}
	if chunks[0].Content != a+"\n\n"+strings.Repeat("b", 28) {
		t.Errorf("unexpected merged content %q", chunks[0].Content)
	}

	chunks = c.Chunk(a + "\n\n" + strings.Repeat("b", 29))
	if len(chunks) != 2 {
		t.Fatalf("expected remainder kept as its own chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Content, strings.Repeat("a", 20)) {
		t.Error("separate remainder should keep the overlap prefix")
	}
}

func TestChunker_ShortDocumentKept(t *testing.T) {
	chunks := NewChunker(800, 100, 200).Chunk("智能巡检项目简介")
	if len(chunks) != 1 || chunks[0].Content != "智能巡检项目简介" {
		t.Fatalf("short document should yield one chunk, got %v", chunks)
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	chunks := NewChunker(800, 100, 200).Chunk("   \n\n\t  ")
	if chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("第一句。第二句！Third one. Fourth? tail")
	want := []string{"第一句。", "第二句！", "Third one.", " Fourth?", " tail"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if n := EstimateTokens("智能质检 system for PCB"); n != 7 {
		t.Errorf("EstimateTokens = %d, want 7", n)
	}
	if EstimateTokens("") != 0 {
		t.Error("empty text has no tokens")
	}
}

func TestPreprocess(t *testing.T) {
	got := Preprocess("  标题  \r\n\r\n\r\n\r\n第一段   内容\t\t继续\n")
	if got != "标题\n\n第一段 内容 继续" {
		t.Errorf("got %q", got)
	}
}
