package match

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// stopwords are dropped from keyword sets. Words of two letters or fewer are
// dropped regardless, so only longer filler words need listing.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "was": true,
	"are": true, "has": true, "have": true, "this": true, "that": true,
	"from": true, "lost": true, "found": true, "near": true, "left": true,
	"item": true, "its": true, "our": true, "you": true, "your": true,
	"not": true, "but": true, "one": true, "all": true, "any": true,
	"can": true, "had": true, "her": true, "his": true, "him": true,
	"she": true, "they": true, "them": true, "were": true, "will": true,
	"been": true, "into": true, "onto": true, "some": true, "very": true,
	"just": true, "about": true, "also": true, "there": true, "then": true,
	"than": true, "when": true, "where": true, "which": true, "while": true,
	"who": true, "what": true,
}

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the set of tokens in s longer than two characters that
// are not stopwords.
func Keywords(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(s) {
		if utf8.RuneCountInString(tok) <= 2 || stopwords[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}

// jaccard is |a ∩ b| / |a ∪ b|, or 0 when both sets are empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// sharedKeywords counts the keywords present in both sets.
func sharedKeywords(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

// normalizedDistance is the Levenshtein distance scaled to [0, 1] by the
// longer string's rune length.
func normalizedDistance(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

// StringSimilarity compares two free-text fields case-insensitively and
// returns a value in [0, 1]. Equal strings score 1 and containment scores
// 0.9; anything else blends edit distance (60%) with keyword overlap (40%).
// An empty side scores 0.
func StringSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}
	edit := 1 - normalizedDistance(a, b)
	overlap := jaccard(Keywords(a), Keywords(b))
	return 0.6*edit + 0.4*overlap
}
