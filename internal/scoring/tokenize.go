package scoring

import (
	"strings"
	"unicode"
)

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ngrams returns the sliding n-grams of tokens joined by a space.
func ngrams(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}

// countNgrams returns n-gram frequency counts.
func countNgrams(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for _, g := range ngrams(tokens, n) {
		counts[g]++
	}
	return counts
}
