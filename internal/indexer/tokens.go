package indexer

import "regexp"

var latinWord = regexp.MustCompile(`[a-zA-Z]+`)

// EstimateTokens approximates the token count of text as the number of CJK
// ideographs plus the number of Latin words.
func EstimateTokens(text string) int {
	n := 0
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fa5 {
			n++
		}
	}
	return n + len(latinWord.FindAllStringIndex(text, -1))
}
