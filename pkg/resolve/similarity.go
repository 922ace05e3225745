package resolve

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Similarity scores two normalized strings in [0,1], 1 meaning identical.
type Similarity interface {
	Score(a, b string) float64
}

// SimilarityFunc adapts a function to the Similarity interface.
type SimilarityFunc func(a, b string) float64

func (f SimilarityFunc) Score(a, b string) float64 { return f(a, b) }

// Levenshtein is the normalized edit-distance similarity:
// 1 - distance / max(len(a), len(b)), counted in runes.
type Levenshtein struct{}

func (Levenshtein) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(b); j++ {
		curr[0] = j
		for i := 1; i <= len(a); i++ {
			if a[i-1] == b[j-1] {
				curr[i] = prev[i-1]
			} else {
				curr[i] = 1 + min(prev[i], curr[i-1], prev[i-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(a)]
}

// TokenSet is the Jaccard similarity of the whitespace separated token sets.
// It ignores word order, so "pump hydraulic" equals "hydraulic pump".
type TokenSet struct{}

func (TokenSet) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	sa := mapset.NewSet[string](strings.Fields(a)...)
	sb := mapset.NewSet[string](strings.Fields(b)...)
	union := sa.Union(sb).Cardinality()
	if union == 0 {
		return 1
	}
	return float64(sa.Intersect(sb).Cardinality()) / float64(union)
}

// NewSimilarity returns the similarity registered under name. Unknown names
// yield Levenshtein.
func NewSimilarity(name string) Similarity {
	switch strings.ToLower(name) {
	case "tokenset", "token_set", "jaccard":
		return TokenSet{}
	default:
		return Levenshtein{}
	}
}
